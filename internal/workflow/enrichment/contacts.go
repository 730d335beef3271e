package enrichment

import (
	"context"
	"strings"

	"leadflow/internal/crm"
	"leadflow/internal/domain"
	"leadflow/internal/mapper"
)

type contactCandidate struct {
	source   string
	phone    string
	email    string
	whatsapp string
}

func first(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func firstOf(list []string) string {
	if len(list) == 0 {
		return ""
	}
	return list[0]
}

// candidates lists one reception contact per secondary source.
func (f findings) candidates() []contactCandidate {
	var out []contactCandidate
	if r := f.review; r != nil {
		out = append(out, contactCandidate{source: "TripAdvisor", phone: r.Phone, email: r.Email})
	}
	out = append(out, contactCandidate{
		source:   "Website",
		phone:    firstOf(f.page.Phones),
		email:    firstOf(f.page.Emails),
		whatsapp: f.page.WhatsApp,
	})
	out = append(out, contactCandidate{
		source:   "Instagram",
		phone:    first(f.profile.Phone, firstOf(f.profile.BioPhones)),
		email:    first(f.profile.Email, firstOf(f.profile.BioEmails)),
		whatsapp: f.profile.WhatsApp,
	})
	return out
}

// seenSet tracks phone digits and lower-case emails already on the company.
type seenSet map[string]bool

func (s seenSet) phone(p string) bool { d := mapper.Digits(p); return d != "" && s["tel:"+d] }
func (s seenSet) email(e string) bool { return e != "" && s["mail:"+strings.ToLower(e)] }

func (s seenSet) addPhone(p string) {
	if d := mapper.Digits(p); d != "" {
		s["tel:"+d] = true
	}
}

func (s seenSet) addEmail(e string) {
	if e != "" {
		s["mail:"+strings.ToLower(e)] = true
	}
}

// createContacts adds the reception contacts found by the secondary sources,
// skipping any phone or email the company's contacts already have.
func (s *Service) createContacts(ctx context.Context, companyID, companyName string, f findings) (int, error) {
	existing, err := crm.AssociatedRecords(ctx, s.CRM, companyID, crm.Contacts, crm.ContactProperties)
	if err != nil {
		return 0, err
	}
	seen := seenSet{}
	for _, c := range existing {
		seen.addPhone(c.Get("phone"))
		seen.addPhone(c.Get("mobilephone"))
		seen.addPhone(c.Get("hs_whatsapp_phone_number"))
		seen.addEmail(c.Get("email"))
	}

	created := 0
	for _, cand := range f.candidates() {
		phone := mapper.NormalizePhone(cand.phone)
		whatsapp := mapper.NormalizePhone(cand.whatsapp)
		email := strings.ToLower(strings.TrimSpace(cand.email))
		if seen.phone(phone) {
			phone = ""
		}
		if seen.phone(whatsapp) {
			whatsapp = ""
		}
		if seen.email(email) {
			email = ""
		}
		if phone == "" && whatsapp == "" && email == "" {
			continue
		}

		props := domain.Properties{
			"firstname": "Recepcion " + strings.TrimSpace(companyName),
			"lastname":  "/ " + cand.source,
		}
		if phone != "" {
			props["phone"] = phone
		}
		if email != "" {
			props["email"] = email
		}
		if whatsapp != "" {
			props["mobilephone"] = whatsapp
			props["hs_whatsapp_phone_number"] = whatsapp
		}
		if _, err := s.CRM.CreateContact(ctx, companyID, props); err != nil {
			return created, err
		}
		created++
		seen.addPhone(phone)
		seen.addPhone(whatsapp)
		seen.addEmail(email)
	}
	return created, nil
}

// Package enrichment fills in a company's address, contact and review data
// from Google Places, TripAdvisor, the hotel's own website or Instagram
// profile, and Booking.com.
package enrichment

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"leadflow/internal/booking"
	"leadflow/internal/calendar"
	"leadflow/internal/crm"
	"leadflow/internal/domain"
	"leadflow/internal/mapper"
	"leadflow/internal/notes"
	"leadflow/internal/places"
	"leadflow/internal/reviews"
	"leadflow/internal/scrape"
	"leadflow/internal/upstream"
	"leadflow/internal/worker"
	"leadflow/internal/workflow"
)

const name = "Enrichment"

// Per-company outcomes.
const (
	StatusEnriched  = "enriched"
	StatusNoResults = "no_results"
	StatusError     = workflow.StatusError
)

// CRM is the part of crm.Client the workflow drives.
type CRM interface {
	SearchCompanies(ctx context.Context, agentValue string) ([]domain.Record, error)
	GetCompany(ctx context.Context, id string) (domain.Record, error)
	UpdateCompany(ctx context.Context, id string, props domain.Properties) error
	MergeCompanies(ctx context.Context, winnerID, loserID string) error
	CreateNote(ctx context.Context, companyID, body string) error
	Associated(ctx context.Context, from crm.ObjectType, id string, to crm.ObjectType) ([]string, error)
	GetObjects(ctx context.Context, typ crm.ObjectType, ids []string, props []string) ([]domain.Record, error)
	CreateContact(ctx context.Context, companyID string, props domain.Properties) (string, error)
	CreateTask(ctx context.Context, companyID string, props domain.Properties) (string, error)
}

type PlaceLookup interface {
	SearchText(ctx context.Context, query string) (*places.Place, error)
	Get(ctx context.Context, id string) (*places.Place, error)
}

type ReviewDirectory interface {
	Details(ctx context.Context, id string) (*reviews.Location, error)
	SearchDetails(ctx context.Context, query, hintName, latLong string) (*reviews.Location, error)
	Photos(ctx context.Context, id string) ([]reviews.Photo, error)
}

type WebsiteScraper interface {
	Scrape(ctx context.Context, url string) scrape.Page
}

type SocialScraper interface {
	Scrape(ctx context.Context, url, hotelName, city string) scrape.Profile
}

type ListingFinder interface {
	Search(ctx context.Context, name, city, country, websiteHTML string) *booking.Listing
}

// Deps are the collaborators. CRM, Places and Website are required; a nil
// Reviews, Social or Listings skips that source.
type Deps struct {
	CRM      CRM
	Places   PlaceLookup
	Reviews  ReviewDirectory
	Website  WebsiteScraper
	Social   SocialScraper
	Listings ListingFinder
}

type Options struct {
	// Overwrite lets discovered values replace populated CRM fields.
	Overwrite bool
	// BatchSize caps how many companies one subject-less run processes.
	BatchSize int
	// Delay separates companies within a batch.
	Delay time.Duration
	// FollowUp schedules a qualification task after a successful run.
	FollowUp bool
}

type Service struct {
	Deps
	opts Options
	log  zerolog.Logger
	now  func() time.Time
	rnd  *rand.Rand
}

var (
	_ worker.Workflow = (*Service)(nil)
	_ worker.Resolver = (*Service)(nil)
)

func New(d Deps, opts Options, logger zerolog.Logger) *Service {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 1
	}
	return &Service{
		Deps: d,
		opts: opts,
		log:  logger.With().Str("component", "enrichment").Logger(),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// CompanyResult is the outcome for one company.
type CompanyResult struct {
	CompanyID       string               `json:"company_id"`
	CompanyName     string               `json:"company_name,omitempty"`
	Status          string               `json:"status"`
	Message         string               `json:"message,omitempty"`
	Changes         []domain.FieldChange `json:"changes,omitempty"`
	Note            string               `json:"note,omitempty"`
	Resolution      *Resolution          `json:"place_id_conflict,omitempty"`
	ContactsCreated int                  `json:"contacts_created,omitempty"`
	FollowUpTaskID  string               `json:"follow_up_task_id,omitempty"`
}

// Response is the batch envelope.
type Response struct {
	TotalFound int             `json:"total_found"`
	Enriched   int             `json:"enriched"`
	NoResults  int             `json:"no_results"`
	Errors     int             `json:"errors"`
	Results    []CompanyResult `json:"results"`
	Message    string          `json:"message,omitempty"`
}

func (s *Service) ResolveNextSubject(ctx context.Context) (string, error) {
	found, err := s.CRM.SearchCompanies(ctx, domain.AgentEnrichment)
	if err != nil {
		return "", err
	}
	if len(found) == 0 {
		return "", nil
	}
	return found[0].ID, nil
}

// Run enriches subjectID, or up to BatchSize companies flagged for
// enrichment when subjectID is empty. Only a failure to load the subjects
// is returned as an error; per-company failures are results.
func (s *Service) Run(ctx context.Context, subjectID string) (any, error) {
	var companies []domain.Record
	if subjectID != "" {
		c, err := s.CRM.GetCompany(ctx, subjectID)
		if err != nil {
			return nil, fmt.Errorf("load company %s: %w", subjectID, err)
		}
		companies = []domain.Record{c}
	} else {
		found, err := s.CRM.SearchCompanies(ctx, domain.AgentEnrichment)
		if err != nil {
			return nil, fmt.Errorf("search companies: %w", err)
		}
		if len(found) == 0 {
			return Response{Results: []CompanyResult{}, Message: fmt.Sprintf("No companies found with %s=%q", domain.PropAgent, domain.AgentEnrichment)}, nil
		}
		companies = found[:min(len(found), s.opts.BatchSize)]
	}

	resp := Response{TotalFound: len(companies), Results: make([]CompanyResult, 0, len(companies))}
	for i, c := range companies {
		if i > 0 && s.opts.Delay > 0 {
			if err := workflow.Sleep(ctx, s.opts.Delay); err != nil {
				break
			}
		}
		res, err := s.Enrich(ctx, c)
		if err != nil {
			res = CompanyResult{
				CompanyID:   c.ID,
				CompanyName: c.Get(domain.PropName),
				Status:      StatusError,
				Message:     workflow.Abort(ctx, s.CRM, s.log, name, c, err, s.now()),
			}
		}
		resp.Results = append(resp.Results, res)
		switch res.Status {
		case StatusEnriched:
			resp.Enriched++
		case StatusNoResults:
			resp.NoResults++
		default:
			resp.Errors++
		}
		if upstream.IsRateLimit(err) {
			s.log.Warn().Err(err).Int("processed", i+1).Msg("rate limited, stopping batch with partial results")
			break
		}
	}
	return resp, nil
}

// findings collects what the isolated sources returned.
type findings struct {
	review  *reviews.Location
	photos  []reviews.Photo
	page    scrape.Page
	profile scrape.Profile
	listing *booking.Listing
}

// Enrich runs the pipeline for one company. A returned error is a
// load-bearing failure the caller must clean up after.
func (s *Service) Enrich(ctx context.Context, company domain.Record) (CompanyResult, error) {
	props := company.Properties
	log := s.log.With().Str("company_id", company.ID).Logger()
	res := CompanyResult{CompanyID: company.ID, CompanyName: props.Get(domain.PropName)}

	workflow.Try(ctx, log, "mark_busy", func(ctx context.Context) error {
		return s.CRM.UpdateCompany(ctx, company.ID, domain.Properties{domain.PropAgent: domain.AgentPending})
	})

	place, err := s.lookupPlace(ctx, log, props)
	if err != nil {
		return res, fmt.Errorf("google places: %w", err)
	}

	f := s.gather(ctx, log, props, place)

	if place == nil && f.review == nil {
		if err := s.CRM.UpdateCompany(ctx, company.ID, domain.Properties{domain.PropAgent: ""}); err != nil {
			return res, fmt.Errorf("clear %s: %w", domain.PropAgent, err)
		}
		res.Status = StatusNoResults
		res.Message = "No results from Google Places or TripAdvisor"
		log.Info().Msg("no results")
		return res, nil
	}

	patch, changes := s.buildPatch(props, place, f)
	res.Changes = changes

	resolution, err := s.apply(ctx, log, company, patch)
	if err != nil {
		return res, err
	}
	res.Resolution = resolution

	note := notes.Enrichment{
		CompanyName: res.CompanyName,
		Place:       place,
		Review:      f.review,
		Photos:      f.photos,
		Website:     f.page,
		Instagram:   f.profile,
		Listing:     f.listing,
		Changes:     changes,
		Now:         s.now(),
	}.Render()
	res.Note = note
	workflow.Try(ctx, log, "enrichment_note", func(ctx context.Context) error {
		return s.CRM.CreateNote(ctx, company.ID, note)
	})
	if body := resolution.note(res.CompanyName, s.now()); body != "" {
		workflow.Try(ctx, log, "conflict_note", func(ctx context.Context) error {
			return s.CRM.CreateNote(ctx, company.ID, body)
		})
	}

	res.ContactsCreated = workflow.BestEffort(ctx, log, "contacts", 0, func(ctx context.Context) (int, error) {
		return s.createContacts(ctx, company.ID, res.CompanyName, f)
	})

	if s.opts.FollowUp {
		country := patch.Get(domain.PropCountry)
		if country == "" {
			country = props.Get(domain.PropCountry)
		}
		res.FollowUpTaskID = workflow.BestEffort(ctx, log, "follow_up_task", "", func(ctx context.Context) (string, error) {
			return s.CRM.CreateTask(ctx, company.ID, domain.Properties{
				crm.TaskSubject:   calendar.TaskSubject(domain.AgentQualifyLead, res.CompanyName),
				crm.TaskBody:      calendar.TaskBody(company.ID, res.CompanyName, props.Get(domain.PropCity), country),
				crm.TaskStatus:    "NOT_STARTED",
				crm.TaskTimestamp: calendar.TaskDueDate(country, s.now(), s.rnd).Format(time.RFC3339),
				"hs_task_type":    "TODO",
			})
		})
	}

	res.Status = StatusEnriched
	log.Info().Int("changes", len(changes)).Msg("company enriched")
	return res, nil
}

// lookupPlace tries the stored place id first and falls back to a text
// search. Only the text search is load-bearing.
func (s *Service) lookupPlace(ctx context.Context, log zerolog.Logger, props domain.Properties) (*places.Place, error) {
	if id := props.Get(domain.PropPlaceID); id != "" {
		p, err := s.Places.Get(ctx, id)
		switch {
		case err == nil && p != nil:
			return p, nil
		case upstream.IsRateLimit(err):
			return nil, err
		case err != nil:
			log.Warn().Err(err).Str("place_id", id).Msg("place id lookup failed, falling back to text search")
		}
	}
	query := places.BuildQuery(props.Get(domain.PropName), props.Get(domain.PropCity), props.Get(domain.PropCountry))
	if query == "" {
		return nil, nil
	}
	return s.Places.SearchText(ctx, query)
}

// gather runs the isolated sources concurrently. None of them can fail the
// run.
func (s *Service) gather(ctx context.Context, log zerolog.Logger, props domain.Properties, place *places.Place) findings {
	var f findings
	var g errgroup.Group

	if s.Reviews != nil {
		g.Go(func() error {
			f.review = workflow.BestEffort(ctx, log, "tripadvisor", nil, func(ctx context.Context) (*reviews.Location, error) {
				if id := props.Get(domain.PropReviewID); id != "" {
					return s.Reviews.Details(ctx, id)
				}
				hotel := props.Get(domain.PropName)
				latLong := ""
				if place != nil {
					latLong = place.LatLong()
				}
				return s.Reviews.SearchDetails(ctx, reviews.CleanName(hotel), hotel, latLong)
			})
			if f.review != nil && f.review.LocationID != "" {
				f.photos = workflow.BestEffort(ctx, log, "tripadvisor_photos", nil, func(ctx context.Context) ([]reviews.Photo, error) {
					return s.Reviews.Photos(ctx, f.review.LocationID)
				})
			}
			return nil
		})
	}

	g.Go(func() error {
		site := ""
		if place != nil {
			site = strings.TrimSpace(place.WebsiteURI)
		}
		if site == "" {
			site = props.Get(domain.PropWebsite)
		}
		hotel, city := props.Get(domain.PropName), props.Get(domain.PropCity)
		switch {
		case site == "":
		case scrape.IsSocialProfile(site):
			if s.Social != nil {
				f.profile = workflow.BestEffort(ctx, log, "instagram", scrape.Profile{}, func(ctx context.Context) (scrape.Profile, error) {
					return s.Social.Scrape(ctx, site, hotel, city), nil
				})
			}
		case s.Website != nil:
			f.page = workflow.BestEffort(ctx, log, "website", scrape.Page{}, func(ctx context.Context) (scrape.Page, error) {
				return s.Website.Scrape(ctx, site), nil
			})
		}
		if s.Listings != nil {
			f.listing = workflow.BestEffort(ctx, log, "booking", nil, func(ctx context.Context) (*booking.Listing, error) {
				l := s.Listings.Search(ctx, hotel, city, props.Get(domain.PropCountry), f.page.HTML)
				if !l.Useful() {
					return nil, nil
				}
				return l, nil
			})
		}
		return nil
	})

	_ = g.Wait()
	return f
}

// buildPatch merges the discovered data into a property patch. The busy
// flag is always cleared.
func (s *Service) buildPatch(current domain.Properties, place *places.Place, f findings) (domain.Properties, []domain.FieldChange) {
	patch := domain.Properties{}
	var changes []domain.FieldChange

	set := func(field, value string) {
		value = strings.TrimSpace(value)
		if value == "" {
			return
		}
		patch[field] = value
		if old := current.Get(field); old != value {
			changes = append(changes, domain.FieldChange{Field: field, OldValue: old, NewValue: value})
		}
	}

	if place != nil {
		addr := mapper.ParseAddress(place.AddressComponents)
		merged, ch := mapper.MergeFields(current, mapper.PlaceFields(place, addr), s.opts.Overwrite)
		for k, v := range merged {
			patch[k] = v
		}
		changes = append(changes, ch...)

		set(domain.PropCity, addr.City)
		set(domain.PropState, addr.State)
		set(domain.PropPlaza, addr.Plaza)
		set(domain.PropName, place.Name())
		set(domain.PropPlaceID, place.ID)
	}

	if patch.Get(domain.PropPhone) == "" && current.Get(domain.PropPhone) == "" && len(f.page.Phones) > 0 {
		if phone := mapper.NormalizePhone(f.page.Phones[0]); phone != "" {
			set(domain.PropPhone, phone)
		}
	}

	if r := f.review; r != nil {
		if r.LocationID != "" && (s.opts.Overwrite || current.Get(domain.PropReviewID) == "") {
			set(domain.PropReviewID, r.LocationID)
		}
		for k, v := range mapper.ReviewFields(r) {
			patch[k] = v
		}
	}

	if f.listing != nil {
		set(domain.PropBooking, f.listing.URL)
	}

	patch[domain.PropAgent] = ""
	return patch, changes
}

// Package mapper turns adapter results into CRM property updates.
package mapper

import (
	"strings"

	"leadflow/internal/places"
)

type Address struct {
	Address string
	City    string
	State   string
	Zip     string
	Country string
	Plaza   string
}

func component(cs []places.AddressComponent, short bool, types ...string) string {
	for _, t := range types {
		for _, c := range cs {
			for _, ct := range c.Types {
				if ct != t {
					continue
				}
				if short {
					return c.ShortText
				}
				return c.LongText
			}
		}
	}
	return ""
}

// ParseAddress reads Google address components. The street line is
// "route number".
func ParseAddress(cs []places.AddressComponent) Address {
	var street []string
	if r := component(cs, false, "route"); r != "" {
		street = append(street, r)
	}
	if n := component(cs, true, "street_number"); n != "" {
		street = append(street, n)
	}
	return Address{
		Address: strings.Join(street, " "),
		City:    component(cs, false, "locality", "sublocality"),
		State:   component(cs, false, "administrative_area_level_1"),
		Zip:     component(cs, true, "postal_code"),
		Country: component(cs, false, "country"),
		Plaza:   component(cs, false, "administrative_area_level_2"),
	}
}

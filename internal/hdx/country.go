package hdx

import (
	"fmt"
	"strings"

	"github.com/biter777/countries"

	"github.com/ocha-dap/hdx-scraper-unep/pkg/domain"
)

// CountryName resolves an ISO3 code to the country's name.
func CountryName(iso3 string) (string, error) {
	country := countries.ByName(strings.ToUpper(iso3))
	if country == countries.Unknown {
		return "", fmt.Errorf("%w: %s", domain.ErrCountryNotFound, iso3)
	}
	return country.String(), nil
}

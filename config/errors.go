package config

import "fmt"

// MissingParameterError indicates a required configuration parameter that is
// absent from the environment or empty.
type MissingParameterError struct {
	Name string
}

func (e *MissingParameterError) Error() string {
	return fmt.Sprintf("Missing expected configuration parameter: '%s'", e.Name)
}

// InvalidSiteError indicates a site name that does not appear in the site
// roster.
type InvalidSiteError struct {
	Site string
}

func (e *InvalidSiteError) Error() string {
	return fmt.Sprintf("'%s' is not a configured site", e.Site)
}

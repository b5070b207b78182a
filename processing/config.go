package processing

import (
	"fmt"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
)

type Ordering string

const (
	// OrderingGrid sorts the cells of the features' representative points on the grid
	OrderingGrid Ordering = "grid"
	// OrderingFloat sorts the representative points themselves
	OrderingFloat Ordering = "float"
)

type Config struct {
	Ordering Ordering `default:"grid" validate:"oneof=grid float"`
	// How many features are written per page (transaction)
	PageSize int `default:"1000" validate:"min=1"`
	// Max length of the WKT of a feature in a log line, 0 is unlimited
	LogWktMaxLen uint `default:"120"`
}

// NewConfig returns a Config with the defaults filled in
func NewConfig() (Config, error) {
	var config Config
	if err := defaults.Set(&config); err != nil {
		return config, fmt.Errorf("could not set config defaults: %w", err)
	}
	return config, nil
}

func (c Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid processing config: %w", err)
	}
	return nil
}

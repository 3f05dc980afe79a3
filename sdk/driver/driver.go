// Package driver builds ready-to-attach cycle controllers from functional options.
package driver

import (
	"github.com/leandrodaf/fwaudio/internal/cycle"
	"github.com/leandrodaf/fwaudio/sdk/contracts"
)

// NewDriver creates an opened driver with the specified options.
// It applies default options, resolves the transport backend and opens the controller.
//
// opts ...contracts.Option: A variadic list of option functions to customize the driver configuration.
//
// Returns:
//   - *cycle.Controller: An open driver, ready for Attach.
//   - error: An error, if any occurred during configuration or Open.
func NewDriver(opts ...contracts.Option) (*cycle.Controller, error) {
	cfg, err := applyDefaultOptions(opts...)
	if err != nil {
		return nil, err
	}

	c := cycle.New()
	if err := c.Open(cfg); err != nil {
		return nil, err
	}

	return c, nil
}

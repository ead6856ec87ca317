//go:build !linux

package service

import (
	"context"
	"errors"
	"log/slog"
)

type PHCDevice struct{}

var _ Device = (*PHCDevice)(nil)

func NewPHCDevice(log *slog.Logger, ctrl *Controller, config string) (*PHCDevice, error) {
	return nil, errors.New("PHC devices not supported on this platform")
}

func (d *PHCDevice) Name() string { return "phc" }

func (d *PHCDevice) Run(ctx context.Context) error {
	return errors.New("PHC devices not supported on this platform")
}

package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/TheShiveshNetwork/sayonara/internal/domain"
	"github.com/TheShiveshNetwork/sayonara/internal/system"
)

// ErrFirmwareSanitize wraps every failure of a device-level sanitize command.
var ErrFirmwareSanitize = errors.New("firmware sanitize failed")

// Sanitizer issues device-level erase commands.
type Sanitizer interface {
	Sanitize(ctx context.Context, d *domain.Device, op domain.FirmwareOp) error
}

const (
	// NVMe sanitize actions (SANACT).
	sanactBlockErase  = "2"
	sanactCryptoErase = "4"

	// Low three bits of SSTAT.
	sstatNeverSanitized = 0
	sstatCompleted      = 1
	sstatInProgress     = 2
	sstatFailed         = 3

	ataTempPassword = "sayonara"
)

// CommandSanitizer drives nvme-cli and hdparm.
type CommandSanitizer struct {
	runner       system.Runner
	pollInterval time.Duration
	timeout      time.Duration
	logger       *zap.Logger
}

// NewCommandSanitizer creates a sanitizer that shells out to the vendor tools.
func NewCommandSanitizer(runner system.Runner, logger *zap.Logger) *CommandSanitizer {
	return &CommandSanitizer{
		runner:       runner,
		pollInterval: 5 * time.Second,
		timeout:      6 * time.Hour,
		logger:       logger,
	}
}

func (s *CommandSanitizer) Sanitize(ctx context.Context, d *domain.Device, op domain.FirmwareOp) error {
	s.logger.Info("Issuing firmware sanitize",
		zap.String("device_id", d.ID),
		zap.String("op", string(op)),
		zap.String("interface", d.Interface),
	)

	var err error
	switch {
	case d.Class == domain.ClassNVMe:
		err = s.sanitizeNVMe(ctx, d, op)
	case d.Interface == "sata" || d.Interface == "ata" || d.Interface == "sas":
		err = s.sanitizeATA(ctx, d)
	default:
		err = fmt.Errorf("no firmware sanitize path for interface %q", d.Interface)
	}
	if err != nil {
		return fmt.Errorf("%w: %s on %s: %v", ErrFirmwareSanitize, op, d.ID, err)
	}
	return nil
}

func (s *CommandSanitizer) sanitizeNVMe(ctx context.Context, d *domain.Device, op domain.FirmwareOp) error {
	sanact := sanactBlockErase
	if op == domain.FirmwareCryptoErase {
		sanact = sanactCryptoErase
	}
	if _, err := s.runner.Run(ctx, "nvme", "sanitize", d.Path, "--sanact="+sanact); err != nil {
		return err
	}

	// Sanitize runs in the controller; poll the log until it reports completion.
	deadline := time.Now().Add(s.timeout)
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		out, err := s.runner.Run(ctx, "nvme", "sanitize-log", d.Path, "-o", "json")
		if err != nil {
			return err
		}
		sstat, err := parseSanitizeStatus(out)
		if err != nil {
			return err
		}
		switch sstat & 0x7 {
		case sstatCompleted:
			return nil
		case sstatFailed:
			return errors.New("controller reported sanitize failure")
		case sstatInProgress, sstatNeverSanitized:
		default:
			return fmt.Errorf("unexpected sanitize status 0x%x", sstat)
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("sanitize still in progress after %s", s.timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// sanitizeATA runs an enhanced security erase, which on self-encrypting drives replaces the media key.
func (s *CommandSanitizer) sanitizeATA(ctx context.Context, d *domain.Device) error {
	if _, err := s.runner.Run(ctx, "hdparm", "--user-master", "u", "--security-set-pass", ataTempPassword, d.Path); err != nil {
		return err
	}
	_, err := s.runner.Run(ctx, "hdparm", "--user-master", "u", "--security-erase-enhanced", ataTempPassword, d.Path)
	return err
}

// parseSanitizeStatus accepts both the flat and the device-keyed layouts nvme-cli has emitted.
func parseSanitizeStatus(out []byte) (int, error) {
	var flat struct {
		SSTAT *int `json:"sstat"`
	}
	if err := json.Unmarshal(out, &flat); err == nil && flat.SSTAT != nil {
		return *flat.SSTAT, nil
	}
	var nested map[string]json.RawMessage
	if err := json.Unmarshal(out, &nested); err != nil {
		return 0, fmt.Errorf("parse sanitize-log: %w", err)
	}
	for _, raw := range nested {
		if err := json.Unmarshal(raw, &flat); err == nil && flat.SSTAT != nil {
			return *flat.SSTAT, nil
		}
	}
	return 0, errors.New("parse sanitize-log: sstat missing")
}

// Package auth provides credential checks for gated actions such as arming
// a Oneshot.
package auth

import (
	"context"
	"fmt"

	"github.com/metal-stack/failover/pkg/healthstatus"
	"github.com/metal-stack/failover/rest"
	"github.com/spf13/afero"
	htpasswd "github.com/tg123/go-htpasswd"
	"go.uber.org/zap"
)

// PasswdFileCheck authorizes the Basic credentials of the request carried
// in the check context against an Apache htpasswd file.
type PasswdFileCheck struct {
	fs       afero.Fs
	filename string
	log      *zap.SugaredLogger
}

// PasswdFile returns a check against filename on fs. The file is read on
// every check, so edits apply without a restart.
func PasswdFile(log *zap.SugaredLogger, fs afero.Fs, filename string) *PasswdFileCheck {
	return &PasswdFileCheck{
		fs:       fs,
		filename: filename,
		log:      log.With("type", "htpasswd", "file", filename),
	}
}

func (c *PasswdFileCheck) ServiceName() string {
	return "htpasswd:" + c.filename
}

// Check returns healthy if the request's credentials match an entry of the
// file. A missing request yields ErrNoRequest, an unreadable file yields
// unhealthy and the read error.
func (c *PasswdFileCheck) Check(ctx context.Context) (healthstatus.HealthStatus, error) {
	rq, ok := rest.GetRequestFromContext(ctx)
	if !ok {
		c.log.Errorw("no current http request available")
		return healthstatus.HealthStatusUnhealthy, fmt.Errorf("password file check: %w", healthstatus.ErrNoRequest)
	}

	user, password, ok := rq.BasicAuth()
	if !ok {
		c.log.Infow("no valid basic authorization sent")
		return healthstatus.HealthStatusUnhealthy, nil
	}

	f, err := c.fs.Open(c.filename)
	if err != nil {
		c.log.Errorw("unable to open password file", "error", err)
		return healthstatus.HealthStatusUnhealthy, fmt.Errorf("unable to open password file: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	passwords, err := htpasswd.NewFromReader(f, htpasswd.DefaultSystems, func(err error) {
		c.log.Errorw("skipping invalid line in password file", "error", err)
	})
	if err != nil {
		c.log.Errorw("unable to read password file", "error", err)
		return healthstatus.HealthStatusUnhealthy, fmt.Errorf("unable to read password file: %w", err)
	}

	if !passwords.Match(user, password) {
		c.log.Infow("authorization failed", "user", user)
		return healthstatus.HealthStatusUnhealthy, nil
	}

	c.log.Infow("authorization succeeded", "user", user)
	return healthstatus.HealthStatusHealthy, nil
}

package main

import (
	"fmt"
	"time"

	"github.com/keksclan/goFwdAuth/fwdauth"
	"github.com/keksclan/goFwdAuth/fwdauthconfig"
	"github.com/keksclan/goFwdAuth/internal/basic"
	"github.com/keksclan/goFwdAuth/internal/logging"
	"github.com/keksclan/goFwdAuth/internal/server"
)

// daemonConfig is the fwdauthd configuration file. The auth section is a
// fwdauthconfig.FileConfig; environment overrides use the FWDAUTH_ prefix,
// e.g. FWDAUTH_AUTH_JWKS_URL or FWDAUTH_SERVER_LISTEN.
type daemonConfig struct {
	Server struct {
		Listen             string `mapstructure:"listen"`
		ReadTimeoutMs      int    `mapstructure:"read_timeout_ms"`
		WriteTimeoutMs     int    `mapstructure:"write_timeout_ms"`
		ShutdownTimeoutSec int    `mapstructure:"shutdown_timeout_sec"`
	} `mapstructure:"server"`
	Admin struct {
		// Users maps operator names to bcrypt hashes.
		Users map[string]string `mapstructure:"users"`
		Realm string            `mapstructure:"realm"`
	} `mapstructure:"admin"`
	Log  logging.Config           `mapstructure:"log"`
	Auth fwdauthconfig.FileConfig `mapstructure:"auth"`
}

type daemon struct {
	server server.Config
	log    logging.Config
	auth   *fwdauth.Config
}

func loadConfig(path, envFile string) (*daemon, error) {
	var dc daemonConfig
	if err := fwdauthconfig.Decode(path, &dc, fwdauthconfig.WithEnvFile(envFile)); err != nil {
		return nil, err
	}

	auth, err := dc.Auth.Config()
	if err != nil {
		return nil, fmt.Errorf("auth: %w", err)
	}

	dc.Log.ApplyDefaults()
	if err := dc.Log.Validate(); err != nil {
		return nil, err
	}

	d := &daemon{
		log:  dc.Log,
		auth: auth,
		server: server.Config{
			Listen:          dc.Server.Listen,
			ReadTimeout:     time.Duration(dc.Server.ReadTimeoutMs) * time.Millisecond,
			WriteTimeout:    time.Duration(dc.Server.WriteTimeoutMs) * time.Millisecond,
			ShutdownTimeout: time.Duration(dc.Server.ShutdownTimeoutSec) * time.Second,
		},
	}
	if len(dc.Admin.Users) > 0 {
		v, err := basic.NewVerifier(basic.Config{Users: dc.Admin.Users, Realm: dc.Admin.Realm})
		if err != nil {
			return nil, fmt.Errorf("admin: %w", err)
		}
		d.server.Admin = v
	}
	return d, nil
}

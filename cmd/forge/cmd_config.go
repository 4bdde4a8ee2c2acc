// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"io"

	"github.com/AleutianAI/AleutianForge/cmd/forge/config"
	"github.com/AleutianAI/AleutianForge/pkg/secrets"
	"github.com/AleutianAI/AleutianForge/pkg/ux"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func runConfig(cmd *cobra.Command, _ []string) error {
	path, cfg, err := loadConfig()
	if err != nil {
		return err
	}
	svcCfg, err := cfg.ServiceConfig()
	if err != nil {
		return err
	}
	mlockOK, mlockKB := secrets.MlockAvailable()
	return renderConfig(cmd.OutOrStdout(), path, cfg, configStatus{
		HostingToken: !svcCfg.Vercel.Token.Empty(),
		InfluxToken:  !svcCfg.Influx.Token.Empty(),
		MlockOK:      mlockOK,
		MlockLimitKB: mlockKB,
	})
}

type configStatus struct {
	HostingToken bool
	InfluxToken  bool
	MlockOK      bool
	MlockLimitKB int64
}

func renderConfig(w io.Writer, path string, cfg *config.ForgeConfig, st configStatus) error {
	shown := *cfg
	if len(cfg.Auth.Tokens) > 0 {
		shown.Auth.Tokens = make(map[string]string, len(cfg.Auth.Tokens))
		for token, user := range cfg.Auth.Tokens {
			shown.Auth.Tokens[redact(token)] = user
		}
	}
	data, err := yaml.Marshal(shown)
	if err != nil {
		return err
	}

	p := ux.NewPrinter(w)
	p.Title("Forge configuration")
	p.Field("file", path)
	p.Field("hosting token", presence(st.HostingToken))
	p.Field("influx token", presence(st.InfluxToken))
	limit := "unlimited"
	if st.MlockLimitKB >= 0 {
		limit = fmt.Sprintf("%d KB", st.MlockLimitKB)
	}
	if st.MlockOK {
		p.Field("mlock", limit)
	} else {
		p.Field("mlock", p.Render(ux.Styles.Warning, limit+" (secrets may be swapped)"))
	}
	p.Println()
	p.Printf("%s", data)
	return nil
}

func presence(set bool) string {
	if set {
		return "set"
	}
	return "not set"
}

func redact(token string) string {
	if len(token) <= 4 {
		return "****"
	}
	return token[:4] + "****"
}

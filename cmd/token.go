package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/mohammad-safakhou/incidentsync/internal/featurestore"
	"github.com/mohammad-safakhou/incidentsync/internal/runtime"
	"github.com/spf13/cobra"
)

func tokenCMD() *cobra.Command {
	var subject string
	var ttl time.Duration
	var scopes []string
	var arcgis bool

	var token = &cobra.Command{
		Use:   "token",
		Short: "Mint an operator JWT for the run history API, or an ArcGIS token with --arcgis",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if arcgis {
				if err := cfg.ArcGIS.Validate(); err != nil {
					return err
				}
				fs := featurestore.New(featurestore.Config{
					OAuth2URL:         cfg.ArcGIS.OAuth2URL,
					ClientID:          cfg.ArcGIS.ClientID,
					ClientSecret:      cfg.ArcGIS.ClientSecret,
					ExpirationMinutes: cfg.ArcGIS.TokenExpirationMinutes,
					FeatureServerURL:  cfg.ArcGIS.FeatureServerURL,
					LayerID:           cfg.ArcGIS.LayerID,
				}, &http.Client{Timeout: cfg.General.HTTPTimeout})
				tok, err := fs.IssueToken(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), tok.AccessToken)
				return nil
			}
			secret, err := runtime.LoadJWTSecret(cfg)
			if err != nil {
				return err
			}
			signed, err := runtime.SignJWT(subject, secret, ttl, scopes...)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), signed)
			return nil
		},
	}
	token.Flags().StringVar(&subject, "subject", "operator", "token subject")
	token.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	token.Flags().StringSliceVar(&scopes, "scope", []string{runtime.ScopeRunsRead}, "granted scopes")
	token.Flags().BoolVar(&arcgis, "arcgis", false, "request a feature service token with the configured client credentials")

	return token
}

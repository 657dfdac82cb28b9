package main

import (
	"testing"

	strata "github.com/davrell/strata"
	"github.com/davrell/strata/index/keyword"
	"github.com/davrell/strata/index/pgvector"
)

func TestResolveIndexType(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*strata.Config)
		want   string
	}{
		{
			name:   "default config searches the keyword index",
			mutate: func(*strata.Config) {},
			want:   keyword.TypeName,
		},
		{
			name: "postgres keeps parent-child",
			mutate: func(cfg *strata.Config) {
				cfg.Store.Driver = "postgres"
			},
			want: pgvector.TypeName,
		},
		{
			name: "explicit keyword on sqlite stays keyword",
			mutate: func(cfg *strata.Config) {
				cfg.Index.Type = keyword.TypeName
			},
			want: keyword.TypeName,
		},
		{
			name: "custom type passes through",
			mutate: func(cfg *strata.Config) {
				cfg.Index.Type = "memory"
			},
			want: "memory",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := strata.DefaultConfig()
			tc.mutate(&cfg)
			if got := resolveIndexType(cfg); got != tc.want {
				t.Errorf("resolveIndexType = %q, want %q", got, tc.want)
			}
		})
	}
}

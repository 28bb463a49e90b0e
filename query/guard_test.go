package query

import (
	"testing"

	"github.com/c360studio/semgen/semerr"
)

func TestGuardText(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		wantErr bool
	}{
		{
			name:    "clean select",
			text:    `SELECT ?a WHERE { ?a <urn:p> "value" }`,
			wantErr: false,
		},
		{
			name:    "regex filter with braces balanced",
			text:    `SELECT ?a WHERE { ?a <urn:p> ?v . FILTER regex(?v, "^x") }`,
			wantErr: false,
		},
		{
			name:    "empty",
			text:    "   ",
			wantErr: true,
		},
		{
			name:    "insert verb",
			text:    `SELECT ?a WHERE { ?a <urn:p> ?v } INSERT DATA { }`,
			wantErr: true,
		},
		{
			name:    "delete verb lowercase",
			text:    `select ?a where { ?a <urn:p> ?v } delete where { ?a ?p ?v }`,
			wantErr: true,
		},
		{
			name:    "statement separator",
			text:    `SELECT ?a WHERE { ?a <urn:p> ?v }; DROP ALL`,
			wantErr: true,
		},
		{
			name:    "template placeholder",
			text:    `SELECT ?a WHERE { ?a <urn:p> "${user_input}" }`,
			wantErr: true,
		},
		{
			name:    "unbalanced quote",
			text:    `SELECT ?a WHERE { ?a <urn:p> "spliced }`,
			wantErr: true,
		},
		{
			name:    "unbalanced brace",
			text:    `SELECT ?a WHERE { ?a <urn:p> ?v`,
			wantErr: true,
		},
		{
			name:    "nul byte",
			text:    "SELECT ?a WHERE { ?a <urn:p> \x00 }",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := GuardText(tt.text)
			if (err != nil) != tt.wantErr {
				t.Fatalf("GuardText() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && semerr.KindOf(err) != semerr.KindSecurity {
				t.Errorf("guard errors must be security kind, got %s", semerr.KindOf(err))
			}
		})
	}
}

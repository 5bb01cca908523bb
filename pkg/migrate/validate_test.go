package migrate

import "testing"

func TestValidateSections(t *testing.T) {
	cases := map[string]struct {
		body    string
		wantErr bool
	}{
		"ok": {
			body: "-- +goose Up\n-- +goose StatementBegin\nSELECT 1;\n-- +goose StatementEnd\n-- +goose Down\n",
		},
		"missing down": {
			body:    "-- +goose Up\nSELECT 1;\n",
			wantErr: true,
		},
		"down first": {
			body:    "-- +goose Down\n-- +goose Up\n",
			wantErr: true,
		},
		"unbalanced": {
			body:    "-- +goose Up\n-- +goose StatementBegin\n-- +goose Down\n",
			wantErr: true,
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			err := validateSections(tc.body)
			if tc.wantErr && err == nil {
				t.Fatalf("expected error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestParseVersion(t *testing.T) {
	if v, err := ParseVersion("20260301090300"); err != nil || v != 20260301090300 {
		t.Fatalf("unexpected result %d %v", v, err)
	}
	for _, bad := range []string{"", "2026", "2026030109030x"} {
		if _, err := ParseVersion(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

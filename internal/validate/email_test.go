package validate

import (
	"strings"
	"testing"
)

func TestEmail(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{
			name:    "valid email",
			input:   "wanjiku@hudumahub.co.ke",
			want:    "wanjiku@hudumahub.co.ke",
			wantErr: false,
		},
		{
			name:    "valid email with subdomain",
			input:   "fundi@mail.hudumahub.co.ke",
			want:    "fundi@mail.hudumahub.co.ke",
			wantErr: false,
		},
		{
			name:    "valid email with plus tag",
			input:   "seller+bookings@gmail.com",
			want:    "seller+bookings@gmail.com",
			wantErr: false,
		},
		{
			name:    "valid email with dots in local part",
			input:   "grace.wanjiku@example.com",
			want:    "grace.wanjiku@example.com",
			wantErr: false,
		},
		{
			name:    "email normalized to lowercase",
			input:   "Grace.Wanjiku@Gmail.COM",
			want:    "grace.wanjiku@gmail.com",
			wantErr: false,
		},
		{
			name:    "email with whitespace trimmed",
			input:   "  fundi@example.com  ",
			want:    "fundi@example.com",
			wantErr: false,
		},
		{
			name:    "empty email",
			input:   "",
			wantErr: true,
		},
		{
			name:    "missing @",
			input:   "fundiexample.com",
			wantErr: true,
		},
		{
			name:    "missing domain",
			input:   "fundi@",
			wantErr: true,
		},
		{
			name:    "missing local part",
			input:   "@example.com",
			wantErr: true,
		},
		{
			name:    "missing TLD",
			input:   "fundi@example",
			wantErr: true,
		},
		{
			name:    "multiple @",
			input:   "fundi@@example.com",
			wantErr: true,
		},
		{
			name:    "local part too long",
			input:   strings.Repeat("a", 65) + "@example.com",
			wantErr: true,
		},
		{
			name:    "total length too long",
			input:   "fundi@" + strings.Repeat("a", 250) + ".com",
			wantErr: true,
		},
		{
			name:    "space in local part",
			input:   "mama njeri@example.com",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Email(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("Email() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if got != tt.want {
				t.Errorf("Email() = %q, want %q", got, tt.want)
			}
		})
	}
}

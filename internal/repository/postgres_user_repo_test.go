package repository

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/hitoshi/allergyboard/internal/model"
	"github.com/lib/pq"
)

func TestSelectUserColumns(t *testing.T) {
	if got, want := selectUserColumns(""), "id, name, phone, photo_url, email, role, created_at, updated_at"; got != want {
		t.Errorf("selectUserColumns(\"\") = %q, want %q", got, want)
	}
	got := selectUserColumns("u")
	if !strings.HasPrefix(got, "u.id, u.name, ") || !strings.HasSuffix(got, "u.updated_at") {
		t.Errorf("selectUserColumns(\"u\") = %q", got)
	}
}

// 列リストと読み出し先の数がずれるとScanが実行時に失敗する
func TestUserScan_DestMatchesColumns(t *testing.T) {
	var row userScan
	if got, want := len(row.dest()), len(userColumns); got != want {
		t.Fatalf("len(dest) = %d, want %d", got, want)
	}

	row.role = string(model.RoleParent)
	if got := row.result().Role; got != model.RoleParent {
		t.Errorf("Role = %q, want %q", got, model.RoleParent)
	}
}

func TestLinkInsertError(t *testing.T) {
	link := &model.OAuthAccountLink{Provider: "google", ExternalID: "g-1"}

	dup := linkInsertError(link, "commit", &pq.Error{Code: "23505", Constraint: oauthAccountsPKey})
	if !errors.Is(dup, ErrDuplicateLink) {
		t.Errorf("expected ErrDuplicateLink, got %v", dup)
	}
	if !strings.Contains(dup.Error(), "google/g-1") {
		t.Errorf("error should name the link, got %q", dup.Error())
	}

	other := linkInsertError(link, "insert", errors.New("connection reset"))
	if errors.Is(other, ErrDuplicateLink) {
		t.Errorf("unexpected ErrDuplicateLink for %v", other)
	}
}

func TestNewPostgresRepos_Initialize(t *testing.T) {
	if NewPostgresUserRepo(nil) == nil {
		t.Fatal("expected non-nil user repo")
	}
	if NewPostgresOAuthAccountRepo(nil) == nil {
		t.Fatal("expected non-nil oauth account repo")
	}
	if NewPostgresSessionRepo(nil) == nil {
		t.Fatal("expected non-nil session repo")
	}
}

func TestIsUniqueViolation(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		constraint string
		want       bool
	}{
		{
			name:       "unique violation on expected constraint",
			err:        &pq.Error{Code: "23505", Constraint: oauthAccountsPKey},
			constraint: oauthAccountsPKey,
			want:       true,
		},
		{
			name:       "wrapped unique violation",
			err:        fmt.Errorf("insert failed: %w", &pq.Error{Code: "23505", Constraint: oauthAccountsPKey}),
			constraint: oauthAccountsPKey,
			want:       true,
		},
		{
			name:       "unique violation on other constraint",
			err:        &pq.Error{Code: "23505", Constraint: "users_pkey"},
			constraint: oauthAccountsPKey,
			want:       false,
		},
		{
			name:       "any constraint",
			err:        &pq.Error{Code: "23505", Constraint: "users_pkey"},
			constraint: "",
			want:       true,
		},
		{
			name:       "foreign key violation",
			err:        &pq.Error{Code: "23503"},
			constraint: "",
			want:       false,
		},
		{
			name:       "non pq error",
			err:        errors.New("connection refused"),
			constraint: "",
			want:       false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isUniqueViolation(tt.err, tt.constraint); got != tt.want {
				t.Errorf("isUniqueViolation() = %v, want %v", got, tt.want)
			}
		})
	}
}

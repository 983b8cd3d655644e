package authz

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func TestSetGrant_GranteeValidation(t *testing.T) {
	store := NewStore(nil)
	ctx := context.Background()
	userID := int64(100)
	groupID := int64(200)

	err := store.SetGrant(ctx, &Grant{NodeID: 1, Level: LevelRead})
	if !errors.Is(err, ErrInvalidGrantee) {
		t.Errorf("SetGrant without grantee = %v, want ErrInvalidGrantee", err)
	}

	err = store.SetGrant(ctx, &Grant{NodeID: 1, UserID: &userID, GroupID: &groupID, Level: LevelRead})
	if !errors.Is(err, ErrInvalidGrantee) {
		t.Errorf("SetGrant with two grantees = %v, want ErrInvalidGrantee", err)
	}

	err = store.SetGrant(ctx, &Grant{NodeID: 1, UserID: &userID, Level: Level("admin")})
	if !errors.Is(err, ErrInvalidLevel) {
		t.Errorf("SetGrant with bad level = %v, want ErrInvalidLevel", err)
	}
}

func TestSetGrant_MissingNode(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("Failed to create sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT 1 FROM nodes`).WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	store := NewStore(db)
	userID := int64(100)
	err = store.SetGrant(context.Background(), &Grant{NodeID: 42, UserID: &userID, Level: LevelRead})
	if !errors.Is(err, ErrNodeNotFound) {
		t.Errorf("SetGrant on missing node = %v, want ErrNodeNotFound", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unmet expectations: %v", err)
	}
}

func TestRemoveGrant_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("Failed to create sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(`DELETE FROM grants`).
		WithArgs(int64(42), int64(100)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	store := NewStore(db)
	userID := int64(100)
	err = store.RemoveGrant(context.Background(), 42, &userID, nil)
	if !errors.Is(err, ErrGrantNotFound) {
		t.Errorf("RemoveGrant on missing grant = %v, want ErrGrantNotFound", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unmet expectations: %v", err)
	}
}

func TestRemoveGrant_GranteeValidation(t *testing.T) {
	store := NewStore(nil)

	err := store.RemoveGrant(context.Background(), 1, nil, nil)
	if !errors.Is(err, ErrInvalidGrantee) {
		t.Errorf("RemoveGrant without grantee = %v, want ErrInvalidGrantee", err)
	}
}

func TestGrants_UserAndGroupSeparate(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()

	node := f.node(t, 1, "doc", nil)
	userID := int64(100)
	groupID := f.group(t, 1, "team").ID

	// A user grant and a group grant on the same node are independent
	// rows, each upserted on its own key.
	f.userGrant(t, node.ID, userID, LevelRead)
	f.groupGrant(t, node.ID, groupID, LevelWrite)
	f.userGrant(t, node.ID, userID, LevelFullAccess)

	all, err := f.grants.ListGrants(ctx, node.ID)
	if err != nil {
		t.Fatalf("ListGrants failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("Grant count = %d, want 2", len(all))
	}

	for _, grant := range all {
		switch {
		case grant.UserID != nil:
			if *grant.UserID != userID || grant.Level != LevelFullAccess {
				t.Errorf("User grant = %+v, want user 100 at full_access", grant)
			}
		case grant.GroupID != nil:
			if *grant.GroupID != groupID || grant.Level != LevelWrite {
				t.Errorf("Group grant = %+v, want group %d at write", grant, groupID)
			}
		}
	}
}

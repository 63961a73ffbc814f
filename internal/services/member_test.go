package services

import (
	"errors"
	"testing"

	"github.com/querydeck/backend/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func testStore(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	err = db.AutoMigrate(
		&models.User{}, &models.UserToken{}, &models.RefreshToken{}, &models.ApiKey{},
		&models.Project{}, &models.ProjectMember{},
		&models.ProjectVersion{}, &models.ProjectActivity{},
		&models.ProjectDatabase{}, &models.QueryHistory{}, &models.SystemLog{},
	)
	if err != nil {
		t.Fatalf("failed to migrate test store: %v", err)
	}
	return db
}

func seedUser(t *testing.T, db *gorm.DB, email string) *models.User {
	t.Helper()
	user := models.User{Email: email, Name: email, Password: "x", AuthType: "local", IsActive: true}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("failed to seed user %s: %v", email, err)
	}
	return &user
}

func seedProject(t *testing.T, db *gorm.DB, name string, ownerID uint) *models.Project {
	t.Helper()
	project := models.Project{Name: name, Slug: name, Visibility: models.VisibilityPrivate, IsActive: true, CreatedBy: ownerID}
	if err := db.Create(&project).Error; err != nil {
		t.Fatalf("failed to seed project %s: %v", name, err)
	}
	member := models.ProjectMember{ProjectID: project.ID, UserID: ownerID, Role: models.RoleAdmin, IsActive: true}
	if err := db.Create(&member).Error; err != nil {
		t.Fatalf("failed to seed admin membership: %v", err)
	}
	return &project
}

func TestAddMember(t *testing.T) {
	db := testStore(t)
	svc := NewMemberService(db)

	admin := seedUser(t, db, "admin@example.com")
	project := seedProject(t, db, "alpha", admin.ID)
	other := seedUser(t, db, "other@example.com")

	member, err := svc.AddMember(project.ID, &AddMemberRequest{UserID: other.ID, Role: "editor"}, admin.ID)
	if err != nil {
		t.Fatalf("AddMember failed: %v", err)
	}
	if member.Role != models.RoleEditor {
		t.Errorf("role = %s, want editor", member.Role)
	}
	if member.InvitedBy == nil || *member.InvitedBy != admin.ID {
		t.Errorf("invited_by not stamped with %d", admin.ID)
	}

	// Adding the same active member again must fail with already_member.
	_, err = svc.AddMember(project.ID, &AddMemberRequest{UserID: other.ID, Role: "viewer"}, admin.ID)
	if !errors.Is(err, ErrAlreadyMember) {
		t.Fatalf("duplicate add error = %v, want ErrAlreadyMember", err)
	}

	// A single row exists for the pair.
	var count int64
	db.Model(&models.ProjectMember{}).
		Where("project_id = ? AND user_id = ?", project.ID, other.ID).
		Count(&count)
	if count != 1 {
		t.Errorf("membership rows = %d, want 1", count)
	}
}

func TestAddMemberUnknownUser(t *testing.T) {
	db := testStore(t)
	svc := NewMemberService(db)

	admin := seedUser(t, db, "admin@example.com")
	project := seedProject(t, db, "alpha", admin.ID)

	if _, err := svc.AddMember(project.ID, &AddMemberRequest{UserID: 999, Role: "viewer"}, admin.ID); err == nil {
		t.Fatal("expected error for unknown user")
	}
}

func TestAddMemberInvalidRole(t *testing.T) {
	db := testStore(t)
	svc := NewMemberService(db)

	admin := seedUser(t, db, "admin@example.com")
	project := seedProject(t, db, "alpha", admin.ID)
	other := seedUser(t, db, "other@example.com")

	if _, err := svc.AddMember(project.ID, &AddMemberRequest{UserID: other.ID, Role: "overlord"}, admin.ID); err == nil {
		t.Fatal("expected error for invalid role")
	}
}

func TestAddMemberCustomPermissions(t *testing.T) {
	db := testStore(t)
	svc := NewMemberService(db)

	admin := seedUser(t, db, "admin@example.com")
	project := seedProject(t, db, "alpha", admin.ID)
	other := seedUser(t, db, "other@example.com")

	member, err := svc.AddMember(project.ID, &AddMemberRequest{
		UserID:      other.ID,
		Role:        "custom",
		Permissions: []string{"project:read", "queries:execute"},
	}, admin.ID)
	if err != nil {
		t.Fatalf("AddMember failed: %v", err)
	}
	if !member.Permissions.Contains(models.PermQueriesExecute) {
		t.Error("custom member missing queries:execute")
	}
	if member.Permissions.Contains(models.PermMembersManage) {
		t.Error("custom member unexpectedly has members:manage")
	}
}

func TestRemoveMemberLastAdmin(t *testing.T) {
	db := testStore(t)
	svc := NewMemberService(db)

	admin := seedUser(t, db, "admin@example.com")
	project := seedProject(t, db, "alpha", admin.ID)

	// Sole admin cannot be removed.
	err := svc.RemoveMember(project.ID, admin.ID)
	if !errors.Is(err, ErrLastAdminViolation) {
		t.Fatalf("remove sole admin error = %v, want ErrLastAdminViolation", err)
	}

	// The membership stays active after the rejected removal.
	got, err := svc.GetMember(project.ID, admin.ID)
	if err != nil {
		t.Fatalf("GetMember after rejected removal: %v", err)
	}
	if !got.IsActive {
		t.Error("rejected removal deactivated the membership")
	}

	// With a second active admin the removal succeeds.
	second := seedUser(t, db, "second@example.com")
	if _, err := svc.AddMember(project.ID, &AddMemberRequest{UserID: second.ID, Role: "admin"}, admin.ID); err != nil {
		t.Fatalf("AddMember second admin: %v", err)
	}
	if err := svc.RemoveMember(project.ID, admin.ID); err != nil {
		t.Fatalf("RemoveMember with two admins: %v", err)
	}

	n, err := svc.ActiveAdminCount(project.ID)
	if err != nil {
		t.Fatalf("ActiveAdminCount: %v", err)
	}
	if n != 1 {
		t.Errorf("active admins = %d, want 1", n)
	}

	// Now the survivor is the sole admin and is protected again.
	err = svc.RemoveMember(project.ID, second.ID)
	if !errors.Is(err, ErrLastAdminViolation) {
		t.Fatalf("remove surviving admin error = %v, want ErrLastAdminViolation", err)
	}
}

func TestRemoveMemberNonAdmin(t *testing.T) {
	db := testStore(t)
	svc := NewMemberService(db)

	admin := seedUser(t, db, "admin@example.com")
	project := seedProject(t, db, "alpha", admin.ID)
	viewer := seedUser(t, db, "viewer@example.com")

	if _, err := svc.AddMember(project.ID, &AddMemberRequest{UserID: viewer.ID, Role: "viewer"}, admin.ID); err != nil {
		t.Fatalf("AddMember: %v", err)
	}
	if err := svc.RemoveMember(project.ID, viewer.ID); err != nil {
		t.Fatalf("RemoveMember viewer: %v", err)
	}

	// Removing again reports member_not_found: no active row remains.
	err := svc.RemoveMember(project.ID, viewer.ID)
	if !errors.Is(err, ErrMemberNotFound) {
		t.Fatalf("second removal error = %v, want ErrMemberNotFound", err)
	}
}

func TestReactivateRemovedMember(t *testing.T) {
	db := testStore(t)
	svc := NewMemberService(db)

	admin := seedUser(t, db, "admin@example.com")
	project := seedProject(t, db, "alpha", admin.ID)
	other := seedUser(t, db, "other@example.com")

	first, err := svc.AddMember(project.ID, &AddMemberRequest{UserID: other.ID, Role: "editor"}, admin.ID)
	if err != nil {
		t.Fatalf("AddMember: %v", err)
	}
	if err := svc.RemoveMember(project.ID, other.ID); err != nil {
		t.Fatalf("RemoveMember: %v", err)
	}

	// Re-adding reactivates the existing row instead of inserting a new one.
	second, err := svc.AddMember(project.ID, &AddMemberRequest{UserID: other.ID, Role: "viewer"}, admin.ID)
	if err != nil {
		t.Fatalf("re-add after removal: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("reactivation created a new row: id %d != %d", second.ID, first.ID)
	}
	if second.Role != models.RoleViewer {
		t.Errorf("reactivated role = %s, want viewer", second.Role)
	}
	if second.JoinedAt != nil {
		t.Error("joined_at not reset on reactivation")
	}

	var count int64
	db.Model(&models.ProjectMember{}).
		Where("project_id = ? AND user_id = ?", project.ID, other.ID).
		Count(&count)
	if count != 1 {
		t.Errorf("membership rows = %d, want 1", count)
	}
}

func TestUpdateRoleLastAdminGuard(t *testing.T) {
	db := testStore(t)
	svc := NewMemberService(db)

	admin := seedUser(t, db, "admin@example.com")
	project := seedProject(t, db, "alpha", admin.ID)

	// Downgrading the sole admin is rejected.
	_, err := svc.UpdateRole(project.ID, admin.ID, "editor", nil)
	if !errors.Is(err, ErrLastAdminViolation) {
		t.Fatalf("downgrade sole admin error = %v, want ErrLastAdminViolation", err)
	}

	got, _ := svc.GetMember(project.ID, admin.ID)
	if got.Role != models.RoleAdmin {
		t.Errorf("role after rejected downgrade = %s, want admin", got.Role)
	}

	// Admin to admin is a no-op on the count and allowed.
	if _, err := svc.UpdateRole(project.ID, admin.ID, "admin", nil); err != nil {
		t.Fatalf("admin to admin update: %v", err)
	}

	// With a second admin the downgrade goes through.
	second := seedUser(t, db, "second@example.com")
	if _, err := svc.AddMember(project.ID, &AddMemberRequest{UserID: second.ID, Role: "admin"}, admin.ID); err != nil {
		t.Fatalf("AddMember second admin: %v", err)
	}
	updated, err := svc.UpdateRole(project.ID, admin.ID, "editor", nil)
	if err != nil {
		t.Fatalf("downgrade with two admins: %v", err)
	}
	if updated.Role != models.RoleEditor {
		t.Errorf("role = %s, want editor", updated.Role)
	}
}

func TestUpdateRoleCustomPermissions(t *testing.T) {
	db := testStore(t)
	svc := NewMemberService(db)

	admin := seedUser(t, db, "admin@example.com")
	project := seedProject(t, db, "alpha", admin.ID)
	other := seedUser(t, db, "other@example.com")

	if _, err := svc.AddMember(project.ID, &AddMemberRequest{UserID: other.ID, Role: "viewer"}, admin.ID); err != nil {
		t.Fatalf("AddMember: %v", err)
	}

	updated, err := svc.UpdateRole(project.ID, other.ID, "custom", []string{"project:read", "history:read"})
	if err != nil {
		t.Fatalf("UpdateRole to custom: %v", err)
	}
	if !updated.Permissions.Contains(models.PermHistoryRead) {
		t.Error("custom permissions not applied")
	}

	// Switching back to a standard role drops the explicit list.
	updated, err = svc.UpdateRole(project.ID, other.ID, "editor", []string{"members:manage"})
	if err != nil {
		t.Fatalf("UpdateRole to editor: %v", err)
	}
	if len(updated.Permissions) != 0 {
		t.Errorf("standard role kept explicit permissions: %v", updated.Permissions)
	}
}

func TestHasRoleAndPermission(t *testing.T) {
	db := testStore(t)
	svc := NewMemberService(db)

	admin := seedUser(t, db, "admin@example.com")
	project := seedProject(t, db, "alpha", admin.ID)
	editor := seedUser(t, db, "editor@example.com")
	outsider := seedUser(t, db, "outsider@example.com")

	if _, err := svc.AddMember(project.ID, &AddMemberRequest{UserID: editor.ID, Role: "editor"}, admin.ID); err != nil {
		t.Fatalf("AddMember: %v", err)
	}

	tests := []struct {
		name     string
		userID   uint
		required models.Role
		want     bool
	}{
		{"admin meets admin", admin.ID, models.RoleAdmin, true},
		{"editor meets editor", editor.ID, models.RoleEditor, true},
		{"editor below admin", editor.ID, models.RoleAdmin, false},
		{"outsider has nothing", outsider.ID, models.RoleViewer, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := svc.HasRole(project.ID, tt.userID, tt.required)
			if err != nil {
				t.Fatalf("HasRole: %v", err)
			}
			if got != tt.want {
				t.Errorf("HasRole = %v, want %v", got, tt.want)
			}
		})
	}

	ok, err := svc.HasPermission(project.ID, editor.ID, models.PermQueriesExecute)
	if err != nil {
		t.Fatalf("HasPermission: %v", err)
	}
	if !ok {
		t.Error("editor should hold queries:execute")
	}

	ok, _ = svc.HasPermission(project.ID, editor.ID, models.PermMembersManage)
	if ok {
		t.Error("editor should not hold members:manage")
	}
}

func TestListMembers(t *testing.T) {
	db := testStore(t)
	svc := NewMemberService(db)

	admin := seedUser(t, db, "admin@example.com")
	project := seedProject(t, db, "alpha", admin.ID)
	other := seedUser(t, db, "other@example.com")

	if _, err := svc.AddMember(project.ID, &AddMemberRequest{UserID: other.ID, Role: "viewer"}, admin.ID); err != nil {
		t.Fatalf("AddMember: %v", err)
	}
	if err := svc.RemoveMember(project.ID, other.ID); err != nil {
		t.Fatalf("RemoveMember: %v", err)
	}

	active, err := svc.ListMembers(project.ID, false)
	if err != nil {
		t.Fatalf("ListMembers: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("active members = %d, want 1", len(active))
	}

	all, err := svc.ListMembers(project.ID, true)
	if err != nil {
		t.Fatalf("ListMembers all: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("all members = %d, want 2", len(all))
	}
}

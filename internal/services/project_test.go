package services

import (
	"testing"

	"github.com/querydeck/backend/internal/models"
)

func TestCreateProject(t *testing.T) {
	db := testStore(t)
	svc := NewProjectService(db)
	user := seedUser(t, db, "owner@example.com")

	project, err := svc.Create(&CreateProjectRequest{Name: "Sales Analytics"}, user.ID)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if project.Slug != "sales-analytics" {
		t.Errorf("slug = %q, want sales-analytics", project.Slug)
	}
	if project.Visibility != models.VisibilityPrivate {
		t.Errorf("default visibility = %q, want private", project.Visibility)
	}

	// The creator holds an admin membership from the first moment.
	member := NewMemberService(db)
	ok, err := member.HasRole(project.ID, user.ID, models.RoleAdmin)
	if err != nil {
		t.Fatalf("HasRole: %v", err)
	}
	if !ok {
		t.Error("creator is not an admin member")
	}

	// Version 1 snapshot exists.
	versions, err := svc.ListVersions(project.ID)
	if err != nil {
		t.Fatalf("ListVersions: %v", err)
	}
	if len(versions) != 1 || versions[0].Version != 1 {
		t.Errorf("versions = %+v, want single v1", versions)
	}
}

func TestCreateProjectSlugCollision(t *testing.T) {
	db := testStore(t)
	svc := NewProjectService(db)
	user := seedUser(t, db, "owner@example.com")

	first, err := svc.Create(&CreateProjectRequest{Name: "Alpha"}, user.ID)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	second, err := svc.Create(&CreateProjectRequest{Name: "Alpha"}, user.ID)
	if err != nil {
		t.Fatalf("Create duplicate name: %v", err)
	}
	if first.Slug == second.Slug {
		t.Errorf("slugs collide: %q", first.Slug)
	}
}

func TestCreateProjectInvalidInput(t *testing.T) {
	db := testStore(t)
	svc := NewProjectService(db)
	user := seedUser(t, db, "owner@example.com")

	if _, err := svc.Create(&CreateProjectRequest{Name: "!!!"}, user.ID); err == nil {
		t.Error("expected error for unsluggable name")
	}
	if _, err := svc.Create(&CreateProjectRequest{Name: "ok", Visibility: "secret"}, user.ID); err == nil {
		t.Error("expected error for invalid visibility")
	}
}

func TestUpdateProjectAppendsVersion(t *testing.T) {
	db := testStore(t)
	svc := NewProjectService(db)
	user := seedUser(t, db, "owner@example.com")

	project, err := svc.Create(&CreateProjectRequest{Name: "Alpha"}, user.ID)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	newName := "Alpha Renamed"
	updated, err := svc.Update(project.ID, &UpdateProjectRequest{Name: &newName}, user.ID)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Name != newName {
		t.Errorf("name = %q, want %q", updated.Name, newName)
	}
	if updated.Slug != project.Slug {
		t.Errorf("slug changed on rename: %q -> %q", project.Slug, updated.Slug)
	}

	versions, err := svc.ListVersions(project.ID)
	if err != nil {
		t.Fatalf("ListVersions: %v", err)
	}
	if len(versions) != 2 {
		t.Fatalf("versions = %d, want 2", len(versions))
	}
	if versions[0].Version != 2 || versions[0].Name != newName {
		t.Errorf("latest version = %+v, want v2 with new name", versions[0])
	}
}

func TestDeleteProject(t *testing.T) {
	db := testStore(t)
	svc := NewProjectService(db)
	user := seedUser(t, db, "owner@example.com")

	project, err := svc.Create(&CreateProjectRequest{Name: "Alpha"}, user.ID)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := svc.Delete(project.ID, user.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if _, err := svc.GetByID(project.ID); err == nil {
		t.Error("deleted project still resolvable")
	}

	// Soft delete: the row survives for audit queries.
	var count int64
	db.Unscoped().Model(&models.Project{}).Where("id = ?", project.ID).Count(&count)
	if count != 1 {
		t.Errorf("underlying rows = %d, want 1", count)
	}
}

func TestListProjectsScopedToMembership(t *testing.T) {
	db := testStore(t)
	svc := NewProjectService(db)
	alice := seedUser(t, db, "alice@example.com")
	bob := seedUser(t, db, "bob@example.com")

	mine, err := svc.Create(&CreateProjectRequest{Name: "Mine"}, alice.ID)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := svc.Create(&CreateProjectRequest{Name: "Theirs"}, bob.ID); err != nil {
		t.Fatalf("Create: %v", err)
	}

	list, err := svc.List(&ProjectListRequest{}, alice.ID)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if list.Total != 1 || len(list.Items) != 1 || list.Items[0].ID != mine.ID {
		t.Errorf("list = %+v, want only alice's project", list)
	}
}

func TestGetBySlug(t *testing.T) {
	db := testStore(t)
	svc := NewProjectService(db)
	user := seedUser(t, db, "owner@example.com")

	project, err := svc.Create(&CreateProjectRequest{Name: "Alpha Beta"}, user.ID)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := svc.GetBySlug("alpha-beta")
	if err != nil {
		t.Fatalf("GetBySlug: %v", err)
	}
	if got.ID != project.ID {
		t.Errorf("got project %d, want %d", got.ID, project.ID)
	}

	if _, err := svc.GetBySlug("no-such-slug"); err == nil {
		t.Error("expected not found for unknown slug")
	}
}

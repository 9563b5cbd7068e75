package gcs

import (
	"fmt"
	"net/http"
	"testing"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"

	"z-class-ai-api/internal/domain/entity"
)

func TestPreviewMetadataRoundTrip(t *testing.T) {
	updated := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	p := entity.ClassPreview{Name: "Go Basics", FirstUnit: "Syntax", FirstLesson: "Variables", UnitCount: 3, LessonCount: 9}

	attrs := &storage.ObjectAttrs{
		Name:     "classes/Go Basics.json",
		Metadata: previewMetadata(p),
		Updated:  updated,
	}
	got, ok := previewFromAttrs("classes/", attrs)
	if !ok {
		t.Fatal("previewFromAttrs rejected a class object")
	}
	p.UpdatedAt = updated
	if got != p {
		t.Errorf("preview = %+v, want %+v", got, p)
	}
}

func TestPreviewFromAttrsSkipsForeignObjects(t *testing.T) {
	for _, name := range []string{
		"classes/nested/Go.json",
		"classes/Go.txt",
		"classes/.json",
		"other/Go.json",
	} {
		if _, ok := previewFromAttrs("classes/", &storage.ObjectAttrs{Name: name}); ok {
			t.Errorf("%q should be skipped", name)
		}
	}
}

func TestObjectName(t *testing.T) {
	s := &Store{prefix: "classes/"}
	if got := s.objectName("Go"); got != "classes/Go.json" {
		t.Errorf("objectName = %q", got)
	}
}

func TestIsPreconditionFailed(t *testing.T) {
	if !isPreconditionFailed(fmt.Errorf("close: %w", &googleapi.Error{Code: http.StatusPreconditionFailed})) {
		t.Error("wrapped 412 not detected")
	}
	if isPreconditionFailed(&googleapi.Error{Code: http.StatusForbidden}) {
		t.Error("403 reported as precondition failure")
	}
}

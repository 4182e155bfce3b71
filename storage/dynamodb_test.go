package storage

import (
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/ephemhq/ephem/models"
)

func TestResourceItemConversion(t *testing.T) {
	expires := time.Now().Add(time.Hour).Truncate(time.Second)
	res := &models.Resource{
		Slug:         "zx81file",
		Kind:         models.KindFile,
		CreatedAt:    time.Now().Truncate(time.Second),
		ExpiresAt:    &expires,
		UsageCount:   2,
		UsageCeiling: 5,
		PasswordHash: "$2a$10$abcdefghijklmnopqrstuv",
		Size:         1024,
		ContentType:  "application/pdf",
		Filename:     "report.pdf",
	}

	item := resourceToItem(res)
	if _, ok := item["ttl"]; !ok {
		t.Error("expiring resource missing ttl attribute")
	}

	got, err := itemToResource(item)
	if err != nil {
		t.Fatalf("itemToResource: %v", err)
	}
	if got.Slug != res.Slug || got.Kind != res.Kind {
		t.Errorf("got %s/%s, want %s/%s", got.Kind, got.Slug, res.Kind, res.Slug)
	}
	if got.ExpiresAt == nil || !got.ExpiresAt.Equal(expires) {
		t.Errorf("expires_at = %v, want %v", got.ExpiresAt, expires)
	}
	if got.UsageCount != 2 || got.UsageCeiling != 5 {
		t.Errorf("usage = %d/%d, want 2/5", got.UsageCount, got.UsageCeiling)
	}
	if got.PasswordHash != res.PasswordHash {
		t.Error("password hash lost in conversion")
	}
	if got.Filename != "report.pdf" || got.ContentType != "application/pdf" {
		t.Errorf("file fields lost: %q %q", got.Filename, got.ContentType)
	}
}

func TestItemConversionOptionalFields(t *testing.T) {
	res := &models.Resource{
		Slug:      "evergreen",
		Kind:      models.KindURL,
		CreatedAt: time.Now().Truncate(time.Second),
		TargetURL: "https://example.com",
	}

	item := resourceToItem(res)
	for _, absent := range []string{"ttl", "expires_at", "usage_ceiling", "password_hash", "content"} {
		if _, ok := item[absent]; ok {
			t.Errorf("unset field %q present in item", absent)
		}
	}

	got, err := itemToResource(item)
	if err != nil {
		t.Fatalf("itemToResource: %v", err)
	}
	if got.ExpiresAt != nil {
		t.Errorf("expires_at = %v, want nil", got.ExpiresAt)
	}
	if got.UsageCeiling != 0 {
		t.Errorf("ceiling = %d, want 0", got.UsageCeiling)
	}
	if got.TargetURL != "https://example.com" {
		t.Errorf("target_url = %q", got.TargetURL)
	}
}

func TestUsageCountFromAttributes(t *testing.T) {
	count, err := usageCountFromAttributes(map[string]types.AttributeValue{
		"usage_count": &types.AttributeValueMemberN{Value: "7"},
	})
	if err != nil || count != 7 {
		t.Errorf("usageCountFromAttributes = %d, %v; want 7, nil", count, err)
	}

	// A response without the attribute is an error, not a panic.
	if _, err := usageCountFromAttributes(nil); err == nil {
		t.Error("expected error for missing usage_count attribute")
	}
	if _, err := usageCountFromAttributes(map[string]types.AttributeValue{
		"usage_count": &types.AttributeValueMemberS{Value: "7"},
	}); err == nil {
		t.Error("expected error for wrong usage_count attribute type")
	}
}

func TestItemConversionRejectsBadNumbers(t *testing.T) {
	item := map[string]types.AttributeValue{
		"kind":       &types.AttributeValueMemberS{Value: "paste"},
		"slug":       &types.AttributeValueMemberS{Value: "bad"},
		"created_at": &types.AttributeValueMemberN{Value: "not-a-number"},
	}
	if _, err := itemToResource(item); err == nil {
		t.Fatal("expected error for malformed created_at")
	}
}

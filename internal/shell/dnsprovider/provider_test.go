package dnsprovider

import (
	"context"
	"testing"

	cf "github.com/cloudflare/cloudflare-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRecordAPI struct {
	records []cf.DNSRecord
	nextID  int

	created []cf.CreateDNSRecordParams
	updated []cf.UpdateDNSRecordParams
	deleted []string
}

func (f *fakeRecordAPI) ListDNSRecords(_ context.Context, _ *cf.ResourceContainer, params cf.ListDNSRecordsParams) ([]cf.DNSRecord, *cf.ResultInfo, error) {
	var out []cf.DNSRecord
	for _, r := range f.records {
		if r.Name == params.Name && r.Type == params.Type {
			out = append(out, r)
		}
	}
	return out, &cf.ResultInfo{}, nil
}

func (f *fakeRecordAPI) CreateDNSRecord(_ context.Context, _ *cf.ResourceContainer, params cf.CreateDNSRecordParams) (cf.DNSRecord, error) {
	f.created = append(f.created, params)
	f.nextID++
	record := cf.DNSRecord{
		ID:      string(rune('a' + f.nextID)),
		Type:    params.Type,
		Name:    params.Name,
		Content: params.Content,
	}
	f.records = append(f.records, record)
	return record, nil
}

func (f *fakeRecordAPI) UpdateDNSRecord(_ context.Context, _ *cf.ResourceContainer, params cf.UpdateDNSRecordParams) (cf.DNSRecord, error) {
	f.updated = append(f.updated, params)
	for i := range f.records {
		if f.records[i].ID == params.ID {
			f.records[i].Content = params.Content
			return f.records[i], nil
		}
	}
	return cf.DNSRecord{}, assert.AnError
}

func (f *fakeRecordAPI) DeleteDNSRecord(_ context.Context, _ *cf.ResourceContainer, recordID string) error {
	f.deleted = append(f.deleted, recordID)
	for i := range f.records {
		if f.records[i].ID == recordID {
			f.records = append(f.records[:i], f.records[i+1:]...)
			return nil
		}
	}
	return assert.AnError
}

func testProvider(api *fakeRecordAPI) *CloudflareProvider {
	return newCloudflareProvider(api, CloudflareConfig{
		ZoneID:     "zone-1",
		ServerAddr: "203.0.113.10",
	}, nil)
}

func TestEnsureRecord_CreatesMissingRecord(t *testing.T) {
	api := &fakeRecordAPI{}
	p := testProvider(api)

	require.NoError(t, p.EnsureRecord(context.Background(), "alpha.example.com"))

	require.Len(t, api.created, 1)
	assert.Equal(t, "A", api.created[0].Type)
	assert.Equal(t, "alpha.example.com", api.created[0].Name)
	assert.Equal(t, "203.0.113.10", api.created[0].Content)
}

func TestEnsureRecord_IsIdempotent(t *testing.T) {
	api := &fakeRecordAPI{}
	p := testProvider(api)

	require.NoError(t, p.EnsureRecord(context.Background(), "alpha.example.com"))
	require.NoError(t, p.EnsureRecord(context.Background(), "alpha.example.com"))

	assert.Len(t, api.created, 1)
	assert.Empty(t, api.updated)
}

func TestEnsureRecord_UpdatesStaleRecord(t *testing.T) {
	api := &fakeRecordAPI{records: []cf.DNSRecord{
		{ID: "r1", Type: "A", Name: "alpha.example.com", Content: "198.51.100.7"},
	}}
	p := testProvider(api)

	require.NoError(t, p.EnsureRecord(context.Background(), "alpha.example.com"))

	assert.Empty(t, api.created, "stale record is updated in place")
	require.Len(t, api.updated, 1)
	assert.Equal(t, "r1", api.updated[0].ID)
	assert.Equal(t, "203.0.113.10", api.updated[0].Content)
}

func TestRemoveRecord(t *testing.T) {
	api := &fakeRecordAPI{records: []cf.DNSRecord{
		{ID: "r1", Type: "A", Name: "alpha.example.com", Content: "203.0.113.10"},
	}}
	p := testProvider(api)

	require.NoError(t, p.RemoveRecord(context.Background(), "alpha.example.com"))
	assert.Equal(t, []string{"r1"}, api.deleted)

	// Absent record is a no-op.
	require.NoError(t, p.RemoveRecord(context.Background(), "alpha.example.com"))
	assert.Len(t, api.deleted, 1)
}

func TestNoopProvider(t *testing.T) {
	p := NewNoopProvider(nil)
	assert.NoError(t, p.EnsureRecord(context.Background(), "alpha.example.com"))
	assert.NoError(t, p.RemoveRecord(context.Background(), "alpha.example.com"))
}

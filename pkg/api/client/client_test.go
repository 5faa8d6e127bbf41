package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewNormalizesBaseURL(t *testing.T) {
	c, err := New("api.internal:4000/", "tok")
	require.NoError(t, err)
	assert.Equal(t, "http://api.internal:4000", c.baseURL)

	c, err = New("", "")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:4000", c.baseURL)
}

func TestProvisionSendsTokenAndBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/admin/tenants/t1/domains/", r.URL.Path)
		assert.Equal(t, "Bearer admin-secret", r.Header.Get("Authorization"))
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "realty.example", body["domain"])

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"zone_id":"z1","domain":"realty.example","nameservers":["ns1.digitalocean.com"],"manual":false,"instructions":{"title":"t","steps":["a"],"note":"n"}}`))
	}))
	defer srv.Close()

	c, err := New(srv.URL, "admin-secret")
	require.NoError(t, err)
	res, err := c.Provision(context.Background(), "t1", "realty.example")
	require.NoError(t, err)
	assert.Equal(t, "z1", res.ZoneID)
	assert.Equal(t, []string{"ns1.digitalocean.com"}, res.Nameservers)
}

func TestErrorsCarryCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"code":"duplicate_domain","error":"realty.example is already in use by another tenant"}`))
	}))
	defer srv.Close()

	c, err := New(srv.URL, "admin-secret")
	require.NoError(t, err)
	_, err = c.Configure(context.Background(), "t1", "realty.example")

	var apiErr APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.Status)
	assert.Equal(t, "duplicate_domain", apiErr.Code)
	assert.Contains(t, apiErr.Error(), "already in use")
}

func TestTriggerSweepAndInvalidateAll(t *testing.T) {
	var invalidated map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/cron/verify-nameservers":
			_, _ = w.Write([]byte(`{"verified":1,"failed":0,"pending":2,"errored":0,"total":3}`))
		case "/admin/resolver/invalidate":
			_ = json.NewDecoder(r.Body).Decode(&invalidated)
			_, _ = w.Write([]byte(`{"status":"invalidated"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c, err := New(srv.URL, "cron-secret")
	require.NoError(t, err)
	summary, err := c.TriggerSweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SweepSummary{Verified: 1, Pending: 2, Total: 3}, summary)

	require.NoError(t, c.Invalidate(context.Background(), ""))
	assert.Equal(t, true, invalidated["all"])

	_, err = c.VerifyZone(context.Background(), "missing.example")
	var apiErr APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
}

func TestRecordsRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/admin/tenants/t1/domains/realty.example/records", r.URL.Path)
		if r.Method == http.MethodPost {
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "MX", body["type"])
			assert.EqualValues(t, 10, body["priority"])
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"record":{"id":"r1","type":"MX","name":"@","value":"mail.example.net","priority":10,"ttl":3600}}`))
			return
		}
		_, _ = w.Write([]byte(`{"zone_id":"z1","domain":"realty.example","status":"active","records":[{"id":"r1","type":"MX","name":"@","value":"mail.example.net","priority":10,"ttl":3600}],"count":1}`))
	}))
	defer srv.Close()

	c, err := New(srv.URL, "admin-secret")
	require.NoError(t, err)
	priority := 10
	rec, err := c.AddRecord(context.Background(), "t1", "realty.example", ZoneRecord{Type: "MX", Name: "@", Value: "mail.example.net", Priority: &priority})
	require.NoError(t, err)
	assert.Equal(t, "r1", rec.ID)
	assert.Equal(t, 3600, rec.TTL)

	list, err := c.Records(context.Background(), "t1", "realty.example")
	require.NoError(t, err)
	assert.Equal(t, 1, list.Count)
	require.Len(t, list.Records, 1)
	assert.Equal(t, "mail.example.net", list.Records[0].Value)
}

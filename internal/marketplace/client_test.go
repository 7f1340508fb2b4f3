package marketplace

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(srv *httptest.Server) *HTTPClient {
	return NewHTTPClient(ClientConfig{
		Token:             "test-token",
		TaxonomyURL:       srv.URL,
		InventoryURL:      srv.URL,
		MediaURL:          srv.URL,
		MarketplaceID:     "EBAY_US",
		FulfillmentPolicy: "fp-1",
		PaymentPolicy:     "pp-1",
		ReturnPolicy:      "rp-1",
		MerchantLocation:  "loc-1",
	})
}

func TestSuggestCategory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

		switch {
		case r.URL.Path == "/category_tree/0/get_category_suggestions":
			assert.Equal(t, "Allen-Bradley PLC", r.URL.Query().Get("q"))
			json.NewEncoder(w).Encode(map[string]interface{}{
				"categorySuggestions": []map[string]interface{}{
					{"category": map[string]string{"categoryId": "65413", "categoryName": "PLC Processors"}},
					{"category": map[string]string{"categoryId": "99999", "categoryName": "Other"}},
				},
			})
		case r.URL.Path == "/category_tree/0/get_item_aspects_for_category":
			assert.Equal(t, "65413", r.URL.Query().Get("category_id"))
			json.NewEncoder(w).Encode(map[string]interface{}{
				"aspects": []map[string]interface{}{
					{
						"localizedAspectName": "Brand",
						"aspectConstraint":    map[string]bool{"aspectRequired": true},
					},
					{
						"localizedAspectName": "MPN",
						"aspectConstraint":    map[string]bool{"aspectRequired": true},
					},
					{
						"localizedAspectName": "Voltage",
						"aspectConstraint":    map[string]bool{"aspectRequired": true},
						"aspectValues": []map[string]string{
							{"localizedValue": "24 V"},
							{"localizedValue": "120 V"},
						},
					},
					{
						"localizedAspectName": "Type",
						"aspectConstraint":    map[string]bool{"aspectRequired": true},
					},
					{
						"localizedAspectName": "Color",
						"aspectConstraint":    map[string]bool{"aspectRequired": false},
					},
				},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	cat, err := newTestClient(srv).SuggestCategory(context.Background(), "Allen-Bradley PLC")
	require.NoError(t, err)

	assert.Equal(t, "65413", cat.ID, "first suggestion wins")
	assert.Equal(t, "PLC Processors", cat.Name)
	assert.Equal(t, map[string]string{
		"Brand":   "Unbranded",
		"MPN":     "Does Not Apply",
		"Voltage": "24 V",
		"Type":    "Other",
	}, cat.RequiredAspects, "optional aspects are excluded, required ones get defaults")
}

func TestSuggestCategoryNoSuggestions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"categorySuggestions": []interface{}{}})
	}))
	defer srv.Close()

	_, err := newTestClient(srv).SuggestCategory(context.Background(), "gibberish")
	require.Error(t, err)
	assert.False(t, IsTransient(err))
}

func TestUploadImage(t *testing.T) {
	dir := t.TempDir()
	img := filepath.Join(dir, "photo.jpg")
	require.NoError(t, os.WriteFile(img, []byte("jpeg-bytes"), 0o644))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/image", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		f, fh, err := r.FormFile("image")
		require.NoError(t, err)
		defer f.Close()
		assert.Equal(t, "photo.jpg", fh.Filename)

		json.NewEncoder(w).Encode(map[string]string{"imageUrl": "https://pics.example/abc123"})
	}))
	defer srv.Close()

	url, err := newTestClient(srv).UploadImage(context.Background(), img)
	require.NoError(t, err)
	assert.Equal(t, "https://pics.example/abc123", url)
}

func TestUploadImageLocationHeaderFallback(t *testing.T) {
	dir := t.TempDir()
	img := filepath.Join(dir, "photo.jpg")
	require.NoError(t, os.WriteFile(img, []byte("jpeg-bytes"), 0o644))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "https://pics.example/from-header")
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	url, err := newTestClient(srv).UploadImage(context.Background(), img)
	require.NoError(t, err)
	assert.Equal(t, "https://pics.example/from-header", url)
}

func TestUpsertInventoryItem(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/inventory_item/DC-AABBCCDD", r.URL.Path)
		assert.Equal(t, "en-US", r.Header.Get("Content-Language"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	err := newTestClient(srv).UpsertInventoryItem(context.Background(), "DC-AABBCCDD", InventoryItem{
		Title:     "Widget",
		Condition: "USED_GOOD",
		Aspects:   map[string][]string{"Brand": {"Acme"}},
		ImageURLs: []string{"https://pics.example/1"},
	})
	require.NoError(t, err)

	product := got["product"].(map[string]interface{})
	assert.Equal(t, "Widget", product["title"])
	availability := got["availability"].(map[string]interface{})
	ship := availability["shipToLocationAvailability"].(map[string]interface{})
	assert.Equal(t, float64(1), ship["quantity"], "quantity defaults to 1")
}

func TestCreateOffer(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/offer", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"offerId": "offer-42"})
	}))
	defer srv.Close()

	id, err := newTestClient(srv).CreateOffer(context.Background(), Offer{
		SKU:        "DC-AABBCCDD",
		CategoryID: "65413",
		Price:      "79.99",
	})
	require.NoError(t, err)
	assert.Equal(t, "offer-42", id)

	assert.Equal(t, "FIXED_PRICE", got["format"])
	assert.Equal(t, "EBAY_US", got["marketplaceId"])
	pricing := got["pricingSummary"].(map[string]interface{})
	price := pricing["price"].(map[string]interface{})
	assert.Equal(t, "79.99", price["value"])
	assert.Equal(t, "USD", price["currency"], "currency defaults to USD")
	policies := got["listingPolicies"].(map[string]interface{})
	assert.Equal(t, "fp-1", policies["fulfillmentPolicyId"])
}

func TestPublishOffer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/offer/offer-42/publish", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]string{"listingId": "110123456789"})
	}))
	defer srv.Close()

	id, err := newTestClient(srv).PublishOffer(context.Background(), "offer-42")
	require.NoError(t, err)
	assert.Equal(t, "110123456789", id)
}

func TestDecodeAPIErrorStructuredBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"errors": []map[string]interface{}{
				{"errorId": 25002, "message": "A user error has occurred. The offer is missing a return policy."},
			},
		})
	}))
	defer srv.Close()

	_, err := newTestClient(srv).PublishOffer(context.Background(), "offer-42")
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, "25002", apiErr.Code)
	assert.Contains(t, apiErr.Message, "missing a return policy")
	assert.True(t, IsValidation(err))
	assert.False(t, IsTransient(err))
}

func TestErrorClassification(t *testing.T) {
	cases := []struct {
		status    int
		transient bool
	}{
		{http.StatusRequestTimeout, true},
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
		{http.StatusServiceUnavailable, true},
		{http.StatusBadRequest, false},
		{http.StatusNotFound, false},
		{http.StatusConflict, false},
	}

	for _, c := range cases {
		err := &APIError{Status: c.status, Message: "x"}
		assert.Equalf(t, c.transient, IsTransient(err), "status %d", c.status)
		assert.Equalf(t, !c.transient, IsValidation(err), "status %d", c.status)
	}

	assert.True(t, IsTransient(context.DeadlineExceeded))
	assert.False(t, IsValidation(context.DeadlineExceeded))
}

func TestDrafter(t *testing.T) {
	dir := t.TempDir()
	img := filepath.Join(dir, "01.jpg")
	require.NoError(t, os.WriteFile(img, []byte("jpeg-bytes"), 0o644))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Images []struct {
				Name string `json:"name"`
				Data string `json:"data"`
			} `json:"images"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Images, 1)
		assert.NotEmpty(t, req.Images[0].Data)

		json.NewEncoder(w).Encode(DraftResult{
			Title:         "Vintage Film Camera",
			Description:   "<p>Lovely camera.</p>",
			Condition:     "USED_EXCELLENT",
			ItemSpecifics: map[string]string{"Brand": "Canon"},
		})
	}))
	defer srv.Close()

	draft, err := NewHTTPDrafter(srv.URL, 0).Draft(context.Background(), []string{img})
	require.NoError(t, err)
	assert.Equal(t, "Vintage Film Camera", draft.Title)
	assert.Equal(t, "Canon", draft.ItemSpecifics["Brand"])
}

func TestDrafterServerError(t *testing.T) {
	dir := t.TempDir()
	img := filepath.Join(dir, "01.jpg")
	require.NoError(t, os.WriteFile(img, []byte("jpeg-bytes"), 0o644))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewHTTPDrafter(srv.URL, 0).Draft(context.Background(), []string{img})
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

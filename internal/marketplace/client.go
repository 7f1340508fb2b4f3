package marketplace

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"
)

// ClientConfig carries credentials and endpoints for the seller API.
type ClientConfig struct {
	Token             string
	TaxonomyURL       string
	InventoryURL      string
	MediaURL          string
	MarketplaceID     string
	FulfillmentPolicy string
	PaymentPolicy     string
	ReturnPolicy      string
	MerchantLocation  string
	Timeout           time.Duration
}

// HTTPClient implements Client against the marketplace REST endpoints.
type HTTPClient struct {
	cfg  ClientConfig
	http *http.Client
}

func NewHTTPClient(cfg ClientConfig) *HTTPClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		cfg:  cfg,
		http: &http.Client{Timeout: timeout},
	}
}

// SuggestCategory resolves the best category for a query and collects the
// category's required aspects with usable default values.
func (c *HTTPClient) SuggestCategory(ctx context.Context, query string) (Category, error) {
	var suggestions struct {
		CategorySuggestions []struct {
			Category struct {
				CategoryID   string `json:"categoryId"`
				CategoryName string `json:"categoryName"`
			} `json:"category"`
		} `json:"categorySuggestions"`
	}

	u := c.cfg.TaxonomyURL + "/category_tree/0/get_category_suggestions?q=" + url.QueryEscape(query)
	if err := c.getJSON(ctx, u, &suggestions); err != nil {
		return Category{}, fmt.Errorf("suggest category: %w", err)
	}
	if len(suggestions.CategorySuggestions) == 0 {
		return Category{}, &APIError{Status: http.StatusNotFound, Message: "no category suggestions for query"}
	}

	cat := Category{
		ID:              suggestions.CategorySuggestions[0].Category.CategoryID,
		Name:            suggestions.CategorySuggestions[0].Category.CategoryName,
		RequiredAspects: map[string]string{},
	}

	var aspects struct {
		Aspects []struct {
			LocalizedAspectName string `json:"localizedAspectName"`
			AspectConstraint    struct {
				AspectRequired bool `json:"aspectRequired"`
			} `json:"aspectConstraint"`
			AspectValues []struct {
				LocalizedValue string `json:"localizedValue"`
			} `json:"aspectValues"`
		} `json:"aspects"`
	}

	u = c.cfg.TaxonomyURL + "/category_tree/0/get_item_aspects_for_category?category_id=" + url.QueryEscape(cat.ID)
	if err := c.getJSON(ctx, u, &aspects); err != nil {
		return Category{}, fmt.Errorf("fetch required aspects: %w", err)
	}

	for _, a := range aspects.Aspects {
		if !a.AspectConstraint.AspectRequired {
			continue
		}
		switch {
		case a.LocalizedAspectName == "MPN":
			cat.RequiredAspects[a.LocalizedAspectName] = "Does Not Apply"
		case a.LocalizedAspectName == "Brand":
			cat.RequiredAspects[a.LocalizedAspectName] = "Unbranded"
		case len(a.AspectValues) > 0:
			cat.RequiredAspects[a.LocalizedAspectName] = a.AspectValues[0].LocalizedValue
		default:
			cat.RequiredAspects[a.LocalizedAspectName] = "Other"
		}
	}
	return cat, nil
}

// UploadImage pushes one local image file to the picture service and returns
// its hosted URL.
func (c *HTTPClient) UploadImage(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open image %s: %w", path, err)
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("image", filepath.Base(path))
	if err != nil {
		return "", fmt.Errorf("build upload form: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", fmt.Errorf("read image %s: %w", path, err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("finish upload form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.MediaURL+"/image", &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", decodeAPIError(resp)
	}

	var result struct {
		ImageURL string `json:"imageUrl"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil && result.ImageURL != "" {
		return result.ImageURL, nil
	}
	if loc := resp.Header.Get("Location"); loc != "" {
		return loc, nil
	}
	return "", &APIError{Status: resp.StatusCode, Message: "upload succeeded but no image URL returned"}
}

// UpsertInventoryItem creates or replaces the inventory item for a SKU.
func (c *HTTPClient) UpsertInventoryItem(ctx context.Context, sku string, item InventoryItem) error {
	qty := item.Quantity
	if qty == 0 {
		qty = 1
	}
	body := map[string]interface{}{
		"availability": map[string]interface{}{
			"shipToLocationAvailability": map[string]interface{}{"quantity": qty},
		},
		"condition":            item.Condition,
		"conditionDescription": "See photos for details.",
		"product": map[string]interface{}{
			"title":       item.Title,
			"description": item.Description,
			"aspects":     item.Aspects,
			"imageUrls":   item.ImageURLs,
		},
	}

	resp, err := c.doJSON(ctx, http.MethodPut, c.cfg.InventoryURL+"/inventory_item/"+sku, body)
	if err != nil {
		return fmt.Errorf("upsert inventory item: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusNoContent:
		return nil
	default:
		return decodeAPIError(resp)
	}
}

// CreateOffer creates a fixed-price offer for a SKU and returns the offer ID.
func (c *HTTPClient) CreateOffer(ctx context.Context, offer Offer) (string, error) {
	currency := offer.Currency
	if currency == "" {
		currency = "USD"
	}
	qty := offer.Quantity
	if qty == 0 {
		qty = 1
	}
	body := map[string]interface{}{
		"sku":               offer.SKU,
		"marketplaceId":     c.cfg.MarketplaceID,
		"format":            "FIXED_PRICE",
		"availableQuantity": qty,
		"categoryId":        offer.CategoryID,
		"listingPolicies": map[string]interface{}{
			"fulfillmentPolicyId": c.cfg.FulfillmentPolicy,
			"paymentPolicyId":     c.cfg.PaymentPolicy,
			"returnPolicyId":      c.cfg.ReturnPolicy,
		},
		"pricingSummary": map[string]interface{}{
			"price": map[string]string{"value": offer.Price, "currency": currency},
		},
		"merchantLocationKey": c.cfg.MerchantLocation,
	}

	resp, err := c.doJSON(ctx, http.MethodPost, c.cfg.InventoryURL+"/offer", body)
	if err != nil {
		return "", fmt.Errorf("create offer: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", decodeAPIError(resp)
	}

	var result struct {
		OfferID string `json:"offerId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode offer response: %w", err)
	}
	return result.OfferID, nil
}

// PublishOffer publishes an offer and returns the live listing ID.
func (c *HTTPClient) PublishOffer(ctx context.Context, offerID string) (string, error) {
	resp, err := c.doJSON(ctx, http.MethodPost, c.cfg.InventoryURL+"/offer/"+offerID+"/publish", nil)
	if err != nil {
		return "", fmt.Errorf("publish offer: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", decodeAPIError(resp)
	}

	var result struct {
		ListingID string `json:"listingId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode publish response: %w", err)
	}
	return result.ListingID, nil
}

func (c *HTTPClient) getJSON(ctx context.Context, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeAPIError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *HTTPClient) doJSON(ctx context.Context, method, url string, body interface{}) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}
	c.setHeaders(req)
	return c.http.Do(req)
}

func (c *HTTPClient) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Content-Language", "en-US")
	req.Header.Set("Accept", "application/json")
}

// decodeAPIError turns a non-2xx response into an APIError, pulling the first
// structured error out of the body when present.
func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode, Message: resp.Status}

	var body struct {
		Errors []struct {
			ErrorID json.Number `json:"errorId"`
			Message string      `json:"message"`
		} `json:"errors"`
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 8192))
	if err == nil && len(data) > 0 {
		if json.Unmarshal(data, &body) == nil && len(body.Errors) > 0 {
			apiErr.Code = body.Errors[0].ErrorID.String()
			apiErr.Message = body.Errors[0].Message
		} else {
			apiErr.Message = string(data)
		}
	}
	return apiErr
}

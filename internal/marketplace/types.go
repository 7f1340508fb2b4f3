// Package marketplace defines the external collaborators the pipeline talks
// to: the AI drafting service and the marketplace seller API. The executor is
// written against these interfaces and tested against fakes.
package marketplace

import "context"

// DraftResult is the AI drafting service's proposal for a listing.
type DraftResult struct {
	Title          string            `json:"title"`
	Description    string            `json:"description"`
	Condition      string            `json:"condition"`
	ItemSpecifics  map[string]string `json:"item_specifics"`
	SuggestedPrice string            `json:"suggested_price,omitempty"`
}

// Drafter turns a set of image files into a proposed listing.
type Drafter interface {
	Draft(ctx context.Context, images []string) (DraftResult, error)
}

// Category is a resolved marketplace category with the aspects the
// marketplace requires before an offer in it can publish. RequiredAspects
// maps aspect name to a usable default value.
type Category struct {
	ID              string            `json:"category_id"`
	Name            string            `json:"category_name"`
	RequiredAspects map[string]string `json:"required_aspects"`
}

// InventoryItem is the payload for an inventory upsert.
type InventoryItem struct {
	Title       string              `json:"title"`
	Description string              `json:"description"`
	Condition   string              `json:"condition"`
	Aspects     map[string][]string `json:"aspects"`
	ImageURLs   []string            `json:"image_urls"`
	Quantity    int                 `json:"quantity"`
}

// Offer is the payload for offer creation.
type Offer struct {
	SKU        string `json:"sku"`
	CategoryID string `json:"category_id"`
	Price      string `json:"price"`
	Currency   string `json:"currency"`
	Quantity   int    `json:"quantity"`
}

// Client is the marketplace seller API. Every call is idempotent by SKU or
// returned identifier; the remote service is the source of truth for what
// actually exists.
type Client interface {
	SuggestCategory(ctx context.Context, query string) (Category, error)
	UploadImage(ctx context.Context, path string) (string, error)
	UpsertInventoryItem(ctx context.Context, sku string, item InventoryItem) error
	CreateOffer(ctx context.Context, offer Offer) (string, error)
	PublishOffer(ctx context.Context, offerID string) (string, error)
}

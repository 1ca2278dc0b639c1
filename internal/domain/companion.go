package domain

// Companion is an AI persona listed in the catalog.
type Companion struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Tagline     string   `json:"tagline,omitempty"`
	Description string   `json:"description,omitempty"`
	Category    string   `json:"category,omitempty"`
	AvatarURL   string   `json:"avatar_url,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// CollectionImage is a generated image saved to the user's collection.
type CollectionImage struct {
	ID            string `json:"id"`
	CompanionID   string `json:"companion_id"`
	CompanionName string `json:"companion_name,omitempty"`
	URL           string `json:"url"`
	ThumbnailURL  string `json:"thumbnail_url,omitempty"`
	CreatedAt     string `json:"created_at,omitempty"`
}

// PreviewURL returns the thumbnail when one exists, falling back to the
// full image.
func (i CollectionImage) PreviewURL() string {
	if i.ThumbnailURL != "" {
		return i.ThumbnailURL
	}
	return i.URL
}

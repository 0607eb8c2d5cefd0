package datocms

// Asset is an immutable snapshot of a DatoCMS upload.
type Asset struct {
	ID         string         `json:"id"`
	IsImage    bool           `json:"is_image"`
	Size       int64          `json:"size"`
	Width      int            `json:"width,omitempty"`
	Height     int            `json:"height,omitempty"`
	Format     string         `json:"format,omitempty"`
	MimeType   string         `json:"mime_type,omitempty"`
	Path       string         `json:"path"`
	Basename   string         `json:"basename"`
	URL        string         `json:"url"`
	Alt        string         `json:"alt,omitempty"`
	Title      string         `json:"title,omitempty"`
	CustomData map[string]any `json:"custom_data,omitempty"`
	Tags       []string       `json:"tags,omitempty"`
}

type fieldMetadata struct {
	Alt        *string        `json:"alt"`
	Title      *string        `json:"title"`
	CustomData map[string]any `json:"custom_data"`
}

type uploadAttributes struct {
	Size                 *int64                   `json:"size"`
	Width                *int                     `json:"width"`
	Height               *int                     `json:"height"`
	Format               *string                  `json:"format"`
	MimeType             *string                  `json:"mime_type"`
	Path                 *string                  `json:"path"`
	Basename             *string                  `json:"basename"`
	URL                  *string                  `json:"url"`
	IsImage              *bool                    `json:"is_image"`
	Tags                 []string                 `json:"tags"`
	DefaultFieldMetadata map[string]fieldMetadata `json:"default_field_metadata"`
}

type uploadResource struct {
	ID         string           `json:"id"`
	Type       string           `json:"type"`
	Attributes uploadAttributes `json:"attributes"`
}

type uploadsPage struct {
	Data []uploadResource `json:"data"`
	Meta struct {
		TotalCount int64 `json:"total_count"`
	} `json:"meta"`
}

type uploadEnvelope struct {
	Data uploadResource `json:"data"`
}

// toAsset translates a wire record, defaulting every missing optional field.
func (r uploadResource) toAsset(locale string) Asset {
	attrs := r.Attributes
	asset := Asset{
		ID:         r.ID,
		IsImage:    deref(attrs.IsImage),
		Size:       deref(attrs.Size),
		Width:      deref(attrs.Width),
		Height:     deref(attrs.Height),
		Format:     deref(attrs.Format),
		MimeType:   deref(attrs.MimeType),
		Path:       deref(attrs.Path),
		Basename:   deref(attrs.Basename),
		URL:        deref(attrs.URL),
		Tags:       append([]string{}, attrs.Tags...),
		CustomData: map[string]any{},
	}
	if meta, ok := attrs.DefaultFieldMetadata[locale]; ok {
		asset.Alt = deref(meta.Alt)
		asset.Title = deref(meta.Title)
		for key, value := range meta.CustomData {
			asset.CustomData[key] = value
		}
	}
	if asset.Size < 0 {
		asset.Size = 0
	}
	return asset
}

func deref[T any](value *T) T {
	var zero T
	if value == nil {
		return zero
	}
	return *value
}

package models

// UploadedFileRef identifies a document stored with the provider.
type UploadedFileRef struct {
	ID            string `json:"id"`
	OriginalName  string `json:"original_name"`
	Size          int64  `json:"size"`
	VectorStoreID string `json:"vector_store_id,omitempty"`
}

// Upload is the raw document as received from the user.
type Upload struct {
	Name string `json:"name"`
	Data []byte `json:"data"`
}

package models

// UploadSignatureRequest is the body of POST /uploads/signature
type UploadSignatureRequest struct {
	Folder       string `json:"folder"`
	ResourceType string `json:"resourceType"`
}

// UploadSignatureResponse holds the signed parameters a client sends along
// with a direct media upload
type UploadSignatureResponse struct {
	CloudName    string `json:"cloudName"`
	APIKey       string `json:"apiKey"`
	Timestamp    int64  `json:"timestamp"`
	Folder       string `json:"folder"`
	Signature    string `json:"signature"`
	UploadURL    string `json:"uploadUrl"`
	ResourceType string `json:"resourceType"`
}

// RelayStats reports the realtime relay occupancy
type RelayStats struct {
	Participants int `json:"participants"`
	Rooms        int `json:"rooms"`
}

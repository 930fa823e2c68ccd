package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cloudinary/cloudinary-go/v2"
	cldapi "github.com/cloudinary/cloudinary-go/v2/api"

	"github.com/linesmerrill/haven-api/config"
	"github.com/linesmerrill/haven-api/models"
)

const uploadRoot = "haven/chat"

var errFolder = errors.New("folder must be a relative path without '..'")

// Upload exists for dependency injection purposes. Cld is nil when media
// uploads are not configured.
type Upload struct {
	Cld *cloudinary.Cloudinary
	now func() time.Time
}

// NewUpload builds the upload handler from a CLOUDINARY_URL. An empty url
// disables uploads.
func NewUpload(cloudinaryURL string) (Upload, error) {
	if cloudinaryURL == "" {
		return Upload{}, nil
	}
	cld, err := cloudinary.NewFromURL(cloudinaryURL)
	if err != nil {
		return Upload{}, fmt.Errorf("cloudinary: %w", err)
	}
	return Upload{Cld: cld}, nil
}

// SignatureHandler signs upload parameters so the client can send image and
// video files straight to Cloudinary. Uploads are kept under haven/chat.
func (u Upload) SignatureHandler(w http.ResponseWriter, r *http.Request) {
	if u.Cld == nil {
		config.ErrorStatus("media uploads unavailable", http.StatusServiceUnavailable, w, errNotConfigured)
		return
	}
	var req models.UploadSignatureRequest
	if err := decodeBody(w, r, &req); err != nil {
		config.ErrorStatus("failed to decode request", http.StatusBadRequest, w, err)
		return
	}
	folder, err := uploadFolder(req.Folder)
	if err != nil {
		config.ErrorStatus("invalid folder", http.StatusBadRequest, w, err)
		return
	}
	resourceType := req.ResourceType
	switch resourceType {
	case "":
		resourceType = "auto"
	case "image", "video", "auto":
	default:
		config.ErrorStatus("invalid resource type", http.StatusBadRequest, w, fmt.Errorf("unknown resource type %q", resourceType))
		return
	}

	now := time.Now
	if u.now != nil {
		now = u.now
	}
	timestamp := now().Unix()
	params := url.Values{
		"folder":    {folder},
		"timestamp": {strconv.FormatInt(timestamp, 10)},
	}
	signature, err := cldapi.SignParameters(params, u.Cld.Config.Cloud.APISecret)
	if err != nil {
		config.ErrorStatus("failed to sign upload", http.StatusInternalServerError, w, err)
		return
	}

	cloudName := u.Cld.Config.Cloud.CloudName
	writeJSON(w, http.StatusOK, models.UploadSignatureResponse{
		CloudName:    cloudName,
		APIKey:       u.Cld.Config.Cloud.APIKey,
		Timestamp:    timestamp,
		Folder:       folder,
		Signature:    signature,
		ResourceType: resourceType,
		UploadURL:    fmt.Sprintf("https://api.cloudinary.com/v1_1/%s/%s/upload", cloudName, resourceType),
	})
}

func uploadFolder(sub string) (string, error) {
	sub = strings.Trim(strings.TrimSpace(sub), "/")
	if sub == "" {
		return uploadRoot, nil
	}
	for _, part := range strings.Split(sub, "/") {
		if part == "" || part == "." || part == ".." {
			return "", errFolder
		}
	}
	return uploadRoot + "/" + sub, nil
}

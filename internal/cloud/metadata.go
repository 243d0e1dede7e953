package cloud

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Metadata identifies the project and zone the autoscaler runs in.
type Metadata struct {
	Project string
	Zone    string
	Region  string
}

const gcpMetadataBase = "http://metadata.google.internal/computeMetadata/v1"

// DetectMetadata queries the GCP metadata server. It fails quickly outside
// GCP, in which case project and zone must be configured explicitly.
func DetectMetadata(ctx context.Context, timeout time.Duration) (Metadata, error) {
	return detectMetadataURL(ctx, &http.Client{Timeout: timeout}, gcpMetadataBase)
}

func detectMetadataURL(ctx context.Context, client *http.Client, base string) (Metadata, error) {
	get := func(path string) (string, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+path, nil)
		if err != nil {
			return "", err
		}
		req.Header.Set("Metadata-Flavor", "Google")

		resp, err := client.Do(req)
		if err != nil {
			return "", err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("GCP metadata %s returned %d", path, resp.StatusCode)
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(body)), nil
	}

	project, err := get("/project/project-id")
	if err != nil {
		return Metadata{}, err
	}

	// The zone comes back as projects/<number>/zones/<zone>.
	zone, err := get("/instance/zone")
	if err != nil {
		return Metadata{}, err
	}
	if idx := strings.LastIndex(zone, "/"); idx >= 0 {
		zone = zone[idx+1:]
	}
	region := zone
	if idx := strings.LastIndex(zone, "-"); idx > 0 {
		region = zone[:idx]
	}

	return Metadata{Project: project, Zone: zone, Region: region}, nil
}

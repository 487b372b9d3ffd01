package source

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"problembot/internal/domain"
)

// FirstRunSentinel is used when no watermark exists yet. Fetching after a
// very large id returns nothing instead of replaying the entire history
// into a freshly provisioned tenant.
const FirstRunSentinel int64 = 1_000_000_000

type photoWire struct {
	FileUUID string `json:"file_uuid"`
	File     string `json:"file"`
}

type recordWire struct {
	ID        int64     `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	IsPublic  bool      `json:"is_public"`
	Reason    struct {
		Name string `json:"name"`
	} `json:"reason"`
	Petition struct {
		Body   string      `json:"body"`
		Photos []photoWire `json:"photos"`
	} `json:"petition"`
	NearestBuilding struct {
		ShortAddress string `json:"short_address"`
	} `json:"nearest_building"`
	Building struct {
		ShortAddress string `json:"short_address"`
	} `json:"building"`
}

const photoStorageBase = "https://gorod.gov.spb.ru/storage/1/"

func (w recordWire) toDomain() domain.Record {
	address := w.NearestBuilding.ShortAddress
	if address == "" {
		address = w.Building.ShortAddress
	}
	var photos []string
	for _, ph := range w.Petition.Photos {
		ext := ph.File
		if i := strings.LastIndex(ext, "."); i >= 0 {
			ext = ext[i+1:]
		}
		photos = append(photos, photoStorageBase+ph.FileUUID+"."+ext)
	}
	return domain.Record{
		ID:        w.ID,
		CreatedAt: w.CreatedAt,
		Reason:    w.Reason.Name,
		Address:   address,
		Body:      w.Petition.Body,
		Public:    w.IsPublic,
		PhotoURLs: photos,
	}
}

// FetchProblems pulls records newer than afterID from the configured getter
// path, ascending by id.
func (c *Client) FetchProblems(ctx context.Context, path string, afterID int64) ([]domain.Record, error) {
	if path == "" {
		return nil, fmt.Errorf("getter path is not configured")
	}
	if afterID <= 0 {
		afterID = FirstRunSentinel
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}

	var wire []recordWire
	if err := c.request(ctx, "GET", fmt.Sprintf("%s%safter=%d", path, sep, afterID), nil, &wire); err != nil {
		return nil, err
	}

	records := make([]domain.Record, 0, len(wire))
	for _, w := range wire {
		records = append(records, w.toDomain())
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	return records, nil
}

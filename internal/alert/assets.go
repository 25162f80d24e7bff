package alert

import "fmt"

// Asset is one playable sound referenced by an alert.
type Asset struct {
	ID  string
	URL string
}

// AssetConfiguration describes what an alert plays: a set of assets keyed
// by id, the order to play them in, and an optional background asset used
// when the alert renders without audio focus in the foreground.
type AssetConfiguration struct {
	Assets            map[string]Asset
	PlayOrder         []string
	BackgroundAssetID string
}

func (c AssetConfiguration) clone() AssetConfiguration {
	cp := AssetConfiguration{BackgroundAssetID: c.BackgroundAssetID}
	if c.Assets != nil {
		cp.Assets = make(map[string]Asset, len(c.Assets))
		for k, v := range c.Assets {
			cp.Assets[k] = v
		}
	}
	if c.PlayOrder != nil {
		cp.PlayOrder = append([]string(nil), c.PlayOrder...)
	}
	return cp
}

func (c AssetConfiguration) hasAsset(id string) bool {
	a, ok := c.Assets[id]
	return ok && a.ID == id && a.URL != ""
}

// Validate enforces the referential invariants: every play-order entry and
// a non-empty background id must resolve to a well-formed asset.
func (c AssetConfiguration) Validate() error {
	for id, a := range c.Assets {
		if a.ID != id || a.ID == "" || a.URL == "" {
			return fmt.Errorf("%w: asset %q has mismatched id or empty url", ErrBadAssetData, id)
		}
	}
	if c.BackgroundAssetID != "" && !c.hasAsset(c.BackgroundAssetID) {
		return fmt.Errorf("%w: background asset %q is not in the asset set", ErrBadAssetData, c.BackgroundAssetID)
	}
	for _, id := range c.PlayOrder {
		if !c.hasAsset(id) {
			return fmt.Errorf("%w: play order entry %q is not in the asset set", ErrBadAssetData, id)
		}
	}
	return nil
}

// OrderedURLs returns the asset URLs in play order.
func (c AssetConfiguration) OrderedURLs() []string {
	urls := make([]string, 0, len(c.PlayOrder))
	for _, id := range c.PlayOrder {
		if a, ok := c.Assets[id]; ok {
			urls = append(urls, a.URL)
		}
	}
	return urls
}

// BackgroundURL returns the background asset URL, or "" when unset.
func (c AssetConfiguration) BackgroundURL() string {
	if c.BackgroundAssetID == "" {
		return ""
	}
	return c.Assets[c.BackgroundAssetID].URL
}

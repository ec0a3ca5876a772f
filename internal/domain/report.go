package domain

// ItemResult is the outcome for one song of a bulk operation. Err is nil
// when the item went through.
type ItemResult struct {
	SongID  string `json:"kid"`
	EntryID string `json:"plcid,omitempty"`
	Err     error  `json:"-"`
	Code    string `json:"code,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

func Succeeded(songID, entryID string) ItemResult {
	return ItemResult{SongID: songID, EntryID: entryID}
}

func Failed(songID string, err error) ItemResult {
	return ItemResult{SongID: songID, Err: err, Code: Code(err), Reason: err.Error()}
}

// BulkReport collects per-item outcomes of add and copy operations.
type BulkReport struct {
	PlaylistID string       `json:"plaid"`
	Items      []ItemResult `json:"items"`
}

func (r *BulkReport) Add(item ItemResult) {
	r.Items = append(r.Items, item)
}

func (r *BulkReport) Added() []ItemResult {
	return r.filter(true)
}

func (r *BulkReport) Skipped() []ItemResult {
	return r.filter(false)
}

func (r *BulkReport) filter(ok bool) []ItemResult {
	var out []ItemResult
	for _, it := range r.Items {
		if (it.Err == nil) == ok {
			out = append(out, it)
		}
	}
	return out
}

// FirstError returns the error of the first skipped item, if any.
func (r *BulkReport) FirstError() error {
	for _, it := range r.Items {
		if it.Err != nil {
			return it.Err
		}
	}
	return nil
}

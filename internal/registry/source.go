package registry

import "context"

// StaticSource serves a fixed model list. Used when the catalog comes from
// configuration rather than a provider listing endpoint.
type StaticSource struct {
	Models []Model
}

func (s StaticSource) FetchModels(_ context.Context) ([]Model, error) {
	out := make([]Model, len(s.Models))
	copy(out, s.Models)
	return out, nil
}

// MultiSource concatenates the listings of several sources. Any source error
// fails the whole fetch so a partial catalog is never installed.
type MultiSource []Source

func (ms MultiSource) FetchModels(ctx context.Context) ([]Model, error) {
	var all []Model
	for _, s := range ms {
		models, err := s.FetchModels(ctx)
		if err != nil {
			return nil, err
		}
		all = append(all, models...)
	}
	return all, nil
}

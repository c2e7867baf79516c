package viewport

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"testing"

	"github.com/paulmach/orb"
	"github.com/rs/zerolog"

	"civicmap/core-go/internal/feature"
	"civicmap/core-go/internal/filterstate"
)

type recordingLayer struct {
	mu   sync.Mutex
	sets []feature.Collection
}

func (l *recordingLayer) SetCollection(c feature.Collection) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sets = append(l.sets, c)
}

func (l *recordingLayer) last() (feature.Collection, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.sets) == 0 {
		return nil, false
	}
	return l.sets[len(l.sets)-1], true
}

type fakeFetcher struct {
	fn func(ctx context.Context, bbox orb.Bound, srcs []feature.Source, params url.Values) (feature.Collection, error)
}

func (f *fakeFetcher) ByViewport(ctx context.Context, bbox orb.Bound, srcs []feature.Source, params url.Values) (feature.Collection, error) {
	return f.fn(ctx, bbox, srcs, params)
}

type staticFilters struct {
	params url.Values
	err    error
}

func (s staticFilters) QueryParameters() (url.Values, error) {
	return s.params, s.err
}

func testView(zoom float64) Viewport {
	return Viewport{
		Bound: orb.Bound{Min: orb.Point{0.1, 52.1}, Max: orb.Point{0.2, 52.3}},
		Zoom:  zoom,
	}
}

func named(title string) feature.Collection {
	return feature.Collection{{Moniker: "issues/1", Source: feature.SourceIssues, Title: title}}
}

func TestMove_ZoomGateClearsLayer(t *testing.T) {
	layer := &recordingLayer{}
	fetch := &fakeFetcher{fn: func(ctx context.Context, bbox orb.Bound, srcs []feature.Source, params url.Values) (feature.Collection, error) {
		t.Fatal("no data may be requested below the zoom threshold")
		return nil, nil
	}}

	c := New(zerolog.Nop(), fetch, layer, staticFilters{}, nil, 13, nil)
	if gen := c.Move(context.Background(), testView(11)); gen != 0 {
		t.Fatalf("gated move must not issue a request, got generation %d", gen)
	}

	if c.State() != Gated {
		t.Fatalf("expected Gated, got %s", c.State())
	}
	got, ok := layer.last()
	if !ok || len(got) != 0 || got == nil {
		t.Fatalf("gating must push an empty collection, got %v ok=%v", got, ok)
	}
}

func TestMove_LoadsAtOrAboveThreshold(t *testing.T) {
	layer := &recordingLayer{}
	fetch := &fakeFetcher{fn: func(ctx context.Context, bbox orb.Bound, srcs []feature.Source, params url.Values) (feature.Collection, error) {
		return named("loaded"), nil
	}}

	c := New(zerolog.Nop(), fetch, layer, staticFilters{}, nil, 13, nil)
	if gen := c.Move(context.Background(), testView(13)); gen == 0 {
		t.Fatal("move at threshold must issue a request")
	}
	c.inflight.Wait()

	if c.State() != Loaded {
		t.Fatalf("expected Loaded, got %s", c.State())
	}
	got, ok := layer.last()
	if !ok || len(got) != 1 || got[0].Title != "loaded" {
		t.Fatalf("expected the fetched collection on the layer, got %v", got)
	}
}

func TestMove_GenerationDiscipline(t *testing.T) {
	// Request A is issued first but answers last; the layer must show
	// B's result and A's late answer must change nothing.
	releaseA := make(chan struct{})
	layer := &recordingLayer{}
	viewA := Viewport{Bound: orb.Bound{Min: orb.Point{0.1, 52.1}, Max: orb.Point{0.2, 52.3}}, Zoom: 14}
	viewB := Viewport{Bound: orb.Bound{Min: orb.Point{0.3, 52.1}, Max: orb.Point{0.4, 52.3}}, Zoom: 14}
	fetch := &fakeFetcher{fn: func(ctx context.Context, bbox orb.Bound, srcs []feature.Source, params url.Values) (feature.Collection, error) {
		if bbox.Min[0] == viewA.Bound.Min[0] {
			<-releaseA
			return named("A"), nil
		}
		return named("B"), nil
	}}

	c := New(zerolog.Nop(), fetch, layer, staticFilters{}, nil, 13, nil)
	genA := c.Move(context.Background(), viewA)
	genB := c.Move(context.Background(), viewB)
	if genB <= genA {
		t.Fatalf("generations must increase: A=%d B=%d", genA, genB)
	}

	close(releaseA)
	c.inflight.Wait()

	got, ok := layer.last()
	if !ok || got[0].Title != "B" {
		t.Fatalf("displayed collection must be B's result, got %v", got)
	}
	if c.State() != Loaded {
		t.Fatalf("expected Loaded, got %s", c.State())
	}
}

func TestComplete_StaleFailureDiscarded(t *testing.T) {
	layer := &recordingLayer{}
	fetch := &fakeFetcher{fn: func(ctx context.Context, bbox orb.Bound, srcs []feature.Source, params url.Values) (feature.Collection, error) {
		return named("fresh"), nil
	}}

	c := New(zerolog.Nop(), fetch, layer, staticFilters{}, nil, 13, nil)
	gen := c.Move(context.Background(), testView(14))
	c.inflight.Wait()

	// A failure tagged with a superseded generation must not flip the
	// controller into Error.
	c.complete(gen-1, nil, errors.New("slow network error"))
	if c.State() != Loaded {
		t.Fatalf("stale failure must be discarded, state=%s", c.State())
	}
}

func TestComplete_ConcurrentResponsesNeverLeaveStaleData(t *testing.T) {
	// Two responses race: the older generation's answer must never end
	// up on the layer last, even when it passes the staleness check
	// just before the newer generation is issued.
	fetch := &fakeFetcher{fn: func(ctx context.Context, bbox orb.Bound, srcs []feature.Source, params url.Values) (feature.Collection, error) {
		return nil, nil
	}}

	for i := 0; i < 500; i++ {
		layer := &recordingLayer{}
		c := New(zerolog.Nop(), fetch, layer, staticFilters{}, nil, 13, nil)
		c.gen.Store(1)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			c.complete(1, named("stale"), nil)
		}()
		go func() {
			defer wg.Done()
			c.gen.Add(1)
			c.complete(2, named("fresh"), nil)
		}()
		wg.Wait()

		if got, ok := layer.last(); ok && got[0].Title != "fresh" {
			t.Fatalf("iteration %d: layer shows %q after the newer response landed", i, got[0].Title)
		}
	}
}

func TestMove_LatestFailureEntersErrorAndRecovers(t *testing.T) {
	layer := &recordingLayer{}
	fail := true
	fetch := &fakeFetcher{fn: func(ctx context.Context, bbox orb.Bound, srcs []feature.Source, params url.Values) (feature.Collection, error) {
		if fail {
			return nil, errors.New("boom")
		}
		return named("recovered"), nil
	}}

	c := New(zerolog.Nop(), fetch, layer, staticFilters{}, nil, 13, nil)
	c.Move(context.Background(), testView(14))
	c.inflight.Wait()
	if c.State() != Errored {
		t.Fatalf("expected Errored, got %s", c.State())
	}

	// The controller stays responsive: the next move retries.
	fail = false
	c.Move(context.Background(), testView(14.5))
	c.inflight.Wait()
	if c.State() != Loaded {
		t.Fatalf("expected recovery to Loaded, got %s", c.State())
	}
	if got, _ := layer.last(); got[0].Title != "recovered" {
		t.Fatalf("expected recovered collection, got %v", got)
	}
}

func TestMove_InvalidDateRangeSkipsFetch(t *testing.T) {
	layer := &recordingLayer{}
	fetch := &fakeFetcher{fn: func(ctx context.Context, bbox orb.Bound, srcs []feature.Source, params url.Values) (feature.Collection, error) {
		t.Fatal("fetch must be skipped while the date range is inverted")
		return nil, nil
	}}
	filters := staticFilters{err: filterstate.ErrDateRangeInvalid}

	c := New(zerolog.Nop(), fetch, layer, filters, nil, 13, nil)
	if gen := c.Move(context.Background(), testView(14)); gen != 0 {
		t.Fatalf("expected no request, got generation %d", gen)
	}
}

func TestRun_ConsumesMoveStream(t *testing.T) {
	layer := &recordingLayer{}
	fetch := &fakeFetcher{fn: func(ctx context.Context, bbox orb.Bound, srcs []feature.Source, params url.Values) (feature.Collection, error) {
		return named("streamed"), nil
	}}

	c := New(zerolog.Nop(), fetch, layer, staticFilters{}, nil, 13, nil)

	moves := make(chan Viewport)
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Run(context.Background(), moves)
	}()

	moves <- testView(14)
	close(moves)
	<-done
	c.inflight.Wait()

	if got, ok := layer.last(); !ok || got[0].Title != "streamed" {
		t.Fatalf("expected streamed collection, got %v ok=%v", got, ok)
	}
}

func TestLocation_RoundTrip(t *testing.T) {
	l := Location{Zoom: 15.5, Lat: 52.2053, Lon: 0.1218, Bearing: 0, Pitch: 30}
	got, err := ParseLocation(l.String())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got != l {
		t.Fatalf("round trip mismatch: %+v != %+v", got, l)
	}
}

func TestParseLocation_Rejects(t *testing.T) {
	for _, s := range []string{"", "15/52.2", "a/b/c/d/e", "15/52.2/0.1/0"} {
		if _, err := ParseLocation(s); err == nil {
			t.Fatalf("expected error for %q", s)
		}
	}
}

func TestLocation_InitialViewport(t *testing.T) {
	l := Location{Zoom: 14, Lat: 52.2053, Lon: 0.1218}
	v := l.Viewport(1)
	if v.Zoom != 14 {
		t.Fatalf("zoom must carry over, got %v", v.Zoom)
	}
	if !(v.Bound.Min[1] < l.Lat && l.Lat < v.Bound.Max[1]) {
		t.Fatalf("initial bbox must contain the location, got %v", v.Bound)
	}
}

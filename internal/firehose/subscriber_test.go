package firehose

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/url"
	"testing"
	"time"

	"github.com/blackmichael/bluesky-marketplace/internal/domain"
	"github.com/blackmichael/bluesky-marketplace/internal/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockProfiles struct {
	mock.Mock
}

func (m *mockProfiles) GetProfile(ctx context.Context, actor string) (*domain.Author, error) {
	args := m.Called(ctx, actor)
	if a := args.Get(0); a != nil {
		return a.(*domain.Author), args.Error(1)
	}
	return nil, args.Error(1)
}

const createEvent = `{
	"did": "did:plc:alice",
	"time_us": 1725911162329308,
	"kind": "commit",
	"commit": {
		"rev": "3l3qo2vutsw2b",
		"operation": "create",
		"collection": "com.marketplace.listing",
		"rkey": "3l3qo2vuowo2b",
		"cid": "bafyreidwaivazkwu67xztlmuobx35hs2lnfh3kolmgfmucldvhd3sgzcqi",
		"record": {
			"$type": "com.marketplace.listing",
			"title": "Road Bike",
			"description": "Lightly used",
			"price": "$450",
			"category": "Sports",
			"tags": ["Cycling"],
			"location": {"zipCode": "94110", "city": "San Francisco"},
			"createdAt": "2024-09-09T19:46:02.102Z"
		}
	}
}`

func newTestSubscriber(t *testing.T, profiles ProfileResolver) (*Subscriber, *sqlite.Repository) {
	t.Helper()
	repo, err := sqlite.NewRepository(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ix := domain.NewIndexer(repo, repo, time.Second, logger)
	return NewSubscriber("wss://jetstream.example/subscribe", ix, repo, profiles, logger), repo
}

func TestParseEvent_ListingCommit(t *testing.T) {
	event, err := parseEvent([]byte(createEvent))
	require.NoError(t, err)

	assert.Equal(t, "commit", event.Kind)
	assert.Equal(t, int64(1725911162329308), event.TimeUS)
	require.NotNil(t, event.Commit)
	require.NotNil(t, event.Commit.Record)
	assert.Equal(t, "Road Bike", event.Commit.Record.Title)
	assert.Equal(t, "94110", event.Commit.Record.Location.ZipCode)
	assert.Equal(t, "at://did:plc:alice/com.marketplace.listing/3l3qo2vuowo2b", event.uri())
}

func TestParseEvent_OtherCollectionSkipsRecord(t *testing.T) {
	event, err := parseEvent([]byte(`{"did":"did:plc:x","time_us":1,"kind":"commit","commit":{"operation":"create","collection":"app.bsky.feed.post","rkey":"a","record":{"text":"hi"}}}`))
	require.NoError(t, err)
	assert.Nil(t, event.Commit.Record)

	_, err = parseEvent([]byte(`{not json`))
	assert.Error(t, err)
}

func TestHandleCommit_IndexesCreate(t *testing.T) {
	ctx := context.Background()
	profiles := &mockProfiles{}
	profiles.On("GetProfile", mock.Anything, "did:plc:alice").
		Return(&domain.Author{Handle: "alice.bsky.social", DisplayName: "Alice"}, nil)

	sub, repo := newTestSubscriber(t, profiles)
	event, err := parseEvent([]byte(createEvent))
	require.NoError(t, err)

	indexed, err := sub.handleCommit(ctx, event)
	require.NoError(t, err)
	assert.True(t, indexed)
	profiles.AssertExpectations(t)

	stored, err := repo.GetListing(ctx, event.uri())
	require.NoError(t, err)
	assert.Equal(t, "did:plc:alice", stored.Author.DID)
	assert.Equal(t, "alice.bsky.social", stored.Author.Handle)

	members, err := repo.IndexMembers(ctx, "tag:cycling")
	require.NoError(t, err)
	assert.Equal(t, []string{event.uri()}, members)
}

func TestHandleCommit_ProfileFailureStillIndexes(t *testing.T) {
	ctx := context.Background()
	profiles := &mockProfiles{}
	profiles.On("GetProfile", mock.Anything, "did:plc:alice").Return(nil, errors.New("boom"))

	sub, repo := newTestSubscriber(t, profiles)
	event, err := parseEvent([]byte(createEvent))
	require.NoError(t, err)

	indexed, err := sub.handleCommit(ctx, event)
	require.NoError(t, err)
	assert.True(t, indexed)

	stored, err := repo.GetListing(ctx, event.uri())
	require.NoError(t, err)
	assert.Equal(t, domain.Author{DID: "did:plc:alice"}, stored.Author)
}

func TestHandleCommit_DeleteAndInvalid(t *testing.T) {
	ctx := context.Background()
	sub, repo := newTestSubscriber(t, nil)

	deleted, err := parseEvent([]byte(`{"did":"did:plc:alice","time_us":2,"kind":"commit","commit":{"operation":"delete","collection":"com.marketplace.listing","rkey":"gone"}}`))
	require.NoError(t, err)
	indexed, err := sub.handleCommit(ctx, deleted)
	require.NoError(t, err)
	assert.False(t, indexed)

	untitled, err := parseEvent([]byte(`{"did":"did:plc:alice","time_us":3,"kind":"commit","commit":{"operation":"create","collection":"com.marketplace.listing","rkey":"x","record":{"price":"$5"}}}`))
	require.NoError(t, err)
	_, err = sub.handleCommit(ctx, untitled)
	assert.ErrorIs(t, err, domain.ErrValidation)

	all, err := repo.AllListings(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestBuildURL(t *testing.T) {
	sub, _ := newTestSubscriber(t, nil)

	u, err := url.Parse(sub.buildURL(0))
	require.NoError(t, err)
	assert.Equal(t, []string{domain.ListingCollection}, u.Query()["wantedCollections"])
	assert.Empty(t, u.Query().Get("cursor"))

	u, err = url.Parse(sub.buildURL(1725911162329308))
	require.NoError(t, err)
	assert.Equal(t, "1725911162329308", u.Query().Get("cursor"))
}

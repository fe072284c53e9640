package mongodb

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/JakeFAU/car-listing-crawler/internal/crawler"
)

type fakeCollection struct {
	docs []interface{}
	err  error
}

func (f *fakeCollection) InsertOne(_ context.Context, document interface{}, _ ...*options.InsertOneOptions) (*mongo.InsertOneResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.docs = append(f.docs, document)
	return &mongo.InsertOneResult{InsertedID: document.(carDocument).ID}, nil
}

type fakeClient struct {
	pingErr      error
	pinged       *readpref.ReadPref
	disconnected bool
}

func (f *fakeClient) Ping(_ context.Context, rp *readpref.ReadPref) error {
	f.pinged = rp
	return f.pingErr
}

func (f *fakeClient) Disconnect(context.Context) error {
	f.disconnected = true
	return nil
}

func TestStoreInsertsCarDocument(t *testing.T) {
	t.Parallel()

	coll := &fakeCollection{}
	store := newListingStore(&fakeClient{}, coll)

	rec := crawler.ListingRecord{
		URL:       "https://www.chileautos.cl/vehiculos/detalles/CP-AD-1",
		Title:     "2019 Toyota Corolla",
		Price:     12990000,
		Mileage:   45000,
		Page:      2,
		RunID:     "run-1",
		ScrapedAt: time.Unix(1700000000, 0).UTC(),
	}
	id, err := store.Store(context.Background(), rec)
	require.NoError(t, err)
	require.Len(t, coll.docs, 1)

	doc := coll.docs[0].(carDocument)
	assert.Equal(t, doc.ID.Hex(), id)
	assert.Equal(t, rec.Title, doc.Title)
	assert.Equal(t, rec.Price, doc.Price)
	assert.Equal(t, rec.Mileage, doc.Mileage)

	raw, err := bson.Marshal(doc)
	require.NoError(t, err)
	var decoded bson.M
	require.NoError(t, bson.Unmarshal(raw, &decoded))
	assert.Equal(t, "run-1", decoded["run_id"])
	require.Contains(t, decoded, "year", "unknown year is stored as 0 so every document has the same shape")
	assert.EqualValues(t, 0, decoded["year"])
	assert.IsType(t, primitive.ObjectID{}, decoded["_id"])
}

func TestStoreWrapsInsertError(t *testing.T) {
	t.Parallel()

	store := newListingStore(&fakeClient{}, &fakeCollection{err: errors.New("not primary")})
	_, err := store.Store(context.Background(), crawler.ListingRecord{URL: "https://a"})
	require.ErrorContains(t, err, "insert listing: not primary")
}

func TestPingAndClose(t *testing.T) {
	t.Parallel()

	fc := &fakeClient{}
	store := newListingStore(fc, &fakeCollection{})
	require.NoError(t, store.Ping(context.Background()))
	assert.Equal(t, readpref.PrimaryMode, fc.pinged.Mode())

	require.NoError(t, store.Close(context.Background()))
	assert.True(t, fc.disconnected)

	fc.pingErr = errors.New("no reachable servers")
	require.ErrorContains(t, store.Ping(context.Background()), "ping mongo")
}

func TestConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg := Config{}.withDefaults()
	assert.Equal(t, DefaultURI, cfg.URI)
	assert.Equal(t, DefaultDatabase, cfg.Database)
	assert.Equal(t, DefaultCollection, cfg.Collection)
	assert.Equal(t, 10*time.Second, cfg.ConnectTimeout)

	cfg = Config{URI: "mongodb://db:27017", Database: "autos", Collection: "listings"}.withDefaults()
	assert.Equal(t, "autos", cfg.Database)
	assert.Equal(t, "listings", cfg.Collection)
}

func TestOpenRejectsBadURI(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), Config{URI: "http://not-mongo"})
	require.Error(t, err)
}

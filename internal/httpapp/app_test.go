package httpapp_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"musicmarket/internal/config"
	"musicmarket/internal/domain"
	"musicmarket/internal/httpapp"
	applog "musicmarket/internal/log"
	"musicmarket/internal/metrics"
	"musicmarket/internal/payments"
	"musicmarket/internal/pictures"
	"musicmarket/internal/repos"
)

type fakeProvider struct {
	id   string
	err  error
	reqs []payments.CheckoutRequest
}

func (p *fakeProvider) CreateCheckoutSession(_ context.Context, req payments.CheckoutRequest) (string, error) {
	p.reqs = append(p.reqs, req)
	return p.id, p.err
}

type testApp struct {
	app      *fiber.App
	db       *sqlx.DB
	listings *repos.ListingRepo
	logs     *observer.ObservedLogs
	csrf     string
}

func testConfig() config.Config {
	return config.Config{
		BaseURL:         "http://localhost:8080",
		MaxBodyBytes:    1 << 20,
		MaxPictureBytes: 64 << 10,
		RateLimit:       1000,
		LoginRateLimit:  5,
		MetricsEnabled:  true,
		Stripe:          config.StripeConfig{PublishableKey: "pk_test_123", FailOpen: true},
	}
}

func newTestApp(t *testing.T, mutate ...func(*httpapp.Options)) *testApp {
	t.Helper()
	db, err := repos.OpenDB(":memory:")
	require.NoError(t, err)
	require.NoError(t, repos.SeedUsers(db))
	t.Cleanup(func() { _ = db.Close() })

	core, logs := observer.New(zapcore.DebugLevel)
	applog.SetLogger(zap.New(core))
	t.Cleanup(func() { applog.SetLogger(nil) })

	users := repos.NewUserRepo(db)
	require.NoError(t, users.BindSession(context.Background(), "sid-alice", "u-alice"))
	require.NoError(t, users.BindSession(context.Background(), "sid-bob", "u-bob"))

	opts := httpapp.Options{
		Config:   testConfig(),
		DB:       db,
		Pictures: pictures.NewDiskStore(t.TempDir(), "/media"),
		Metrics:  metrics.New("musicmarket"),
	}
	for _, m := range mutate {
		m(&opts)
	}

	ta := &testApp{app: httpapp.New(opts), db: db, listings: repos.NewListingRepo(db), logs: logs}
	resp := ta.send(t, httptest.NewRequest(http.MethodGet, "/login", nil), "")
	ta.csrf = cookie(resp, "csrf_")
	require.NotEmpty(t, ta.csrf, "csrf cookie missing")
	return ta
}

func (ta *testApp) send(t *testing.T, req *http.Request, sid string) *http.Response {
	t.Helper()
	if ta.csrf != "" {
		req.AddCookie(&http.Cookie{Name: "csrf_", Value: ta.csrf})
	}
	if sid != "" {
		req.AddCookie(&http.Cookie{Name: "sid", Value: sid})
	}
	resp, err := ta.app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func (ta *testApp) get(t *testing.T, path, sid string) *http.Response {
	return ta.send(t, httptest.NewRequest(http.MethodGet, path, nil), sid)
}

func (ta *testApp) form(t *testing.T, method, path, sid string, vals url.Values) *http.Response {
	t.Helper()
	if vals == nil {
		vals = url.Values{}
	}
	vals.Set("csrf", ta.csrf)
	req := httptest.NewRequest(method, path, strings.NewReader(vals.Encode()))
	req.Header.Set("Content-Type", fiber.MIMEApplicationForm)
	return ta.send(t, req, sid)
}

func (ta *testApp) create(t *testing.T, sid string, vals url.Values) domain.Listing {
	t.Helper()
	resp := ta.form(t, http.MethodPost, "/listings", sid, vals)
	require.Equal(t, http.StatusFound, resp.StatusCode)
	all, err := ta.listings.All(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, all)
	return all[len(all)-1]
}

func (ta *testApp) logged(action string) []observer.LoggedEntry {
	return ta.logs.FilterMessage(action).All()
}

func body(t *testing.T, resp *http.Response) string {
	t.Helper()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

func guitar() url.Values {
	return url.Values{"title": {"Guitar"}, "price": {"100"}, "description": {"Used"}}
}

func assertRedirect(t *testing.T, resp *http.Response, to string) {
	t.Helper()
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, to, resp.Header.Get("Location"))
}

func TestListingLifecycle(t *testing.T) {
	ta := newTestApp(t)
	ctx := context.Background()

	resp := ta.form(t, http.MethodPost, "/listings", "sid-alice", guitar())
	assertRedirect(t, resp, "/listings")
	all, err := ta.listings.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	l := all[0]
	assert.Equal(t, "u-alice", l.UserID)
	assert.Equal(t, "Guitar", l.Title)
	assert.Equal(t, int64(100), l.Price)
	assert.Equal(t, "Used", l.Description)

	resp = ta.get(t, "/listings/"+l.ID+"/edit", "sid-bob")
	assertRedirect(t, resp, "/listings")
	assert.Len(t, ta.logged("listing.scope.foreign"), 1)
	unchanged, err := ta.listings.ByID(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, l, unchanged)

	resp = ta.form(t, http.MethodPatch, "/listings/"+l.ID, "sid-alice", url.Values{"price": {"150"}})
	assertRedirect(t, resp, "/listings")
	updated, err := ta.listings.ByID(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(150), updated.Price)
	assert.Equal(t, "Guitar", updated.Title)

	resp = ta.form(t, http.MethodDelete, "/listings/"+l.ID, "sid-alice", nil)
	assertRedirect(t, resp, "/listings")
	_, err = ta.listings.ByID(ctx, l.ID)
	assert.ErrorIs(t, err, domain.ErrListingNotFound)

	assert.Len(t, ta.logged("listing.create"), 1)
	assert.Len(t, ta.logged("listing.update"), 1)
	assert.Len(t, ta.logged("listing.destroy"), 1)
}

func TestEditRendersOwnListing(t *testing.T) {
	ta := newTestApp(t)
	l := ta.create(t, "sid-alice", guitar())

	resp := ta.get(t, "/listings/"+l.ID+"/edit", "sid-alice")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	html := body(t, resp)
	assert.Contains(t, html, `value="Guitar"`)
	assert.Contains(t, html, `value="100"`)
	assert.Contains(t, html, `action="/listings/`+l.ID+`"`)
}

func TestForeignAndMissingLookLikeEachOther(t *testing.T) {
	ta := newTestApp(t)
	ctx := context.Background()
	l := ta.create(t, "sid-alice", guitar())

	for _, id := range []string{l.ID, "no-such-listing"} {
		assertRedirect(t, ta.get(t, "/listings/"+id+"/edit", "sid-bob"), "/listings")
		assertRedirect(t, ta.form(t, http.MethodPut, "/listings/"+id, "sid-bob", url.Values{"price": {"1"}}), "/listings")
		assertRedirect(t, ta.form(t, http.MethodPost, "/listings/"+id, "sid-bob", url.Values{"title": {"Stolen"}}), "/listings")
		assertRedirect(t, ta.form(t, http.MethodDelete, "/listings/"+id, "sid-bob", nil), "/listings")
		assertRedirect(t, ta.form(t, http.MethodPost, "/listings/"+id+"/delete", "sid-bob", nil), "/listings")
	}

	stored, err := ta.listings.ByID(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, l, stored)
	assert.Len(t, ta.logged("listing.scope.foreign"), 5)
	assert.Len(t, ta.logged("listing.scope.missing"), 5)
}

func TestCreateIgnoresUnpermittedFields(t *testing.T) {
	ta := newTestApp(t)
	vals := guitar()
	vals.Set("user_id", "u-bob")
	vals.Set("id", "chosen-id")

	l := ta.create(t, "sid-alice", vals)
	assert.Equal(t, "u-alice", l.UserID)
	assert.NotEqual(t, "chosen-id", l.ID)

	entries := ta.logged("listing.params.unpermitted")
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	fields, ok := entries[0].ContextMap()["fields"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, []string{"id", "user_id"}, fields["keys"])
}

func TestCreateInvalidRerendersForm(t *testing.T) {
	ta := newTestApp(t)

	resp := ta.form(t, http.MethodPost, "/listings", "sid-alice", url.Values{"title": {"Amp"}, "price": {"lots"}})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	html := body(t, resp)
	assert.Contains(t, html, "prevented this listing from being saved")
	assert.Contains(t, html, "must be a whole number")
	assert.Contains(t, html, `value="Amp"`)
	assert.Contains(t, html, `value="lots"`)

	all, err := ta.listings.All(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestUpdateInvalidKeepsStoredListing(t *testing.T) {
	ta := newTestApp(t)
	l := ta.create(t, "sid-alice", guitar())

	resp := ta.form(t, http.MethodPatch, "/listings/"+l.ID, "sid-alice", url.Values{"title": {""}, "price": {"175"}})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	html := body(t, resp)
	assert.Contains(t, html, "title")
	assert.Contains(t, html, `value="175"`)

	stored, err := ta.listings.ByID(context.Background(), l.ID)
	require.NoError(t, err)
	assert.Equal(t, l, stored)
}

func TestDestroyIsIdempotent(t *testing.T) {
	ta := newTestApp(t)
	l := ta.create(t, "sid-alice", guitar())

	assertRedirect(t, ta.form(t, http.MethodPost, "/listings/"+l.ID+"/delete", "sid-alice", nil), "/listings")
	assertRedirect(t, ta.form(t, http.MethodPost, "/listings/"+l.ID+"/delete", "sid-alice", nil), "/listings")

	all, err := ta.listings.All(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestShowIsUnscopedAndStrict(t *testing.T) {
	ta := newTestApp(t)
	l := ta.create(t, "sid-alice", guitar())

	resp := ta.get(t, "/listings/"+l.ID, "sid-bob")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	html := body(t, resp)
	assert.Contains(t, html, "Guitar")
	assert.Contains(t, html, "$100")
	assert.Contains(t, html, "Used")

	resp = ta.get(t, "/listings/no-such-listing", "sid-bob")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, body(t, resp), "Listing not found")
}

func TestIndexListsAllListings(t *testing.T) {
	ta := newTestApp(t)
	ta.create(t, "sid-alice", guitar())
	ta.create(t, "sid-bob", url.Values{"title": {"Cello"}, "price": {"900"}, "description": {"Full size"}})

	resp := ta.get(t, "/listings", "sid-alice")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	html := body(t, resp)
	assert.Less(t, strings.Index(html, "Guitar"), strings.Index(html, "Cello"))
	assert.NotContains(t, html, `id="donate"`)
}

func TestIndexCheckoutSession(t *testing.T) {
	prov := &fakeProvider{id: "cs_test_abc"}
	ta := newTestApp(t, func(o *httpapp.Options) {
		o.Donations = &payments.Donations{Provider: prov, Amount: 1000, Currency: "aud", ItemName: "Donate", BaseURL: "http://localhost:8080"}
	})

	resp := ta.get(t, "/listings", "sid-alice")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	html := body(t, resp)
	assert.Contains(t, html, "cs_test_abc")
	assert.Contains(t, html, "pk_test_123")

	require.Len(t, prov.reqs, 1)
	req := prov.reqs[0]
	assert.Equal(t, "u-alice", req.PayerID)
	assert.Equal(t, "alice@musicmarket.test", req.PayerEmail)
	assert.Equal(t, int64(1000), req.Amount)
	assert.Equal(t, "http://localhost:8080/pages/donated?userId=u-alice", req.SuccessURL)
	assert.Equal(t, "http://localhost:8080/", req.CancelURL)
}

func TestIndexPaymentFailure(t *testing.T) {
	failing := func(failOpen bool) func(*httpapp.Options) {
		return func(o *httpapp.Options) {
			o.Config.Stripe.FailOpen = failOpen
			o.Donations = &payments.Donations{
				Provider: &fakeProvider{err: errors.New("stripe: api key expired sk_live_secret")},
				Amount:   1000,
				Currency: "aud",
				ItemName: "Donate",
				BaseURL:  "http://localhost:8080",
			}
		}
	}

	t.Run("fail open renders without session", func(t *testing.T) {
		ta := newTestApp(t, failing(true))
		resp := ta.get(t, "/listings", "sid-alice")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.NotContains(t, body(t, resp), `id="donate"`)
		assert.Len(t, ta.logged("payments.session.fail"), 1)
	})

	t.Run("fail closed propagates", func(t *testing.T) {
		ta := newTestApp(t, failing(false))
		resp := ta.get(t, "/listings", "sid-alice")
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
		html := body(t, resp)
		assert.Contains(t, html, "Something went wrong")
		assert.NotContains(t, html, "sk_live_secret")
		assert.Len(t, ta.logged("server.error"), 1)
	})
}

func TestTemplatesEscapeListingText(t *testing.T) {
	ta := newTestApp(t)
	ta.create(t, "sid-alice", url.Values{"title": {"<script>alert(1)</script>"}, "price": {"5"}, "description": {"x"}})

	html := body(t, ta.get(t, "/listings", "sid-alice"))
	assert.NotContains(t, html, "<script>alert(1)</script>")
	assert.Contains(t, html, "&lt;script&gt;")
}

func TestListingsRequireLogin(t *testing.T) {
	ta := newTestApp(t)

	assertRedirect(t, ta.get(t, "/listings", ""), "/login")
	assertRedirect(t, ta.get(t, "/listings/new", "sid-unknown"), "/login")
	assertRedirect(t, ta.form(t, http.MethodPost, "/listings", "", guitar()), "/login")
}

func TestMutationsRequireCSRFToken(t *testing.T) {
	ta := newTestApp(t)

	req := httptest.NewRequest(http.MethodPost, "/listings", strings.NewReader(guitar().Encode()))
	req.Header.Set("Content-Type", fiber.MIMEApplicationForm)
	req.AddCookie(&http.Cookie{Name: "sid", Value: "sid-alice"})
	resp, err := ta.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	all, err := ta.listings.All(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)
}

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")

func (ta *testApp) multipart(t *testing.T, path, sid string, vals url.Values, filename string, data []byte) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	require.NoError(t, w.WriteField("csrf", ta.csrf))
	for k, vs := range vals {
		for _, v := range vs {
			require.NoError(t, w.WriteField(k, v))
		}
	}
	fw, err := w.CreateFormFile("picture", filename)
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return ta.send(t, req, sid)
}

func TestPictureUploadIsServed(t *testing.T) {
	ta := newTestApp(t)

	resp := ta.multipart(t, "/listings", "sid-alice", guitar(), "strat.png", pngHeader)
	assertRedirect(t, resp, "/listings")
	all, err := ta.listings.All(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 1)
	pic := all[0].Picture
	require.True(t, strings.HasPrefix(pic, "/media/listings/"), pic)
	assert.True(t, strings.HasSuffix(pic, ".png"), pic)

	resp = ta.get(t, pic, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, pngHeader, []byte(body(t, resp)))
}

func TestPictureUploadRejectsNonImages(t *testing.T) {
	ta := newTestApp(t)

	resp := ta.multipart(t, "/listings", "sid-alice", guitar(), "evil.png", []byte("<html><script>x</script></html>"))
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Contains(t, body(t, resp), "must be a JPEG, PNG, GIF or WebP image")
}

func TestEmptyFileInputKeepsPicture(t *testing.T) {
	ta := newTestApp(t)
	ta.multipart(t, "/listings", "sid-alice", guitar(), "strat.png", pngHeader)
	all, err := ta.listings.All(context.Background())
	require.NoError(t, err)
	l := all[0]

	resp := ta.multipart(t, "/listings/"+l.ID, "sid-alice", url.Values{"_method": {"patch"}, "price": {"120"}}, "", nil)
	assertRedirect(t, resp, "/listings")
	stored, err := ta.listings.ByID(context.Background(), l.ID)
	require.NoError(t, err)
	assert.Equal(t, l.Picture, stored.Picture)
	assert.Equal(t, int64(120), stored.Price)
}

func TestMediaTraversalBlocked(t *testing.T) {
	ta := newTestApp(t)
	for _, p := range []string{"/media/..%2f..%2fetc%2fpasswd", "/media/%2e%2e/secret"} {
		resp := ta.get(t, p, "")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, p)
	}
}

func TestDonatedPageAudited(t *testing.T) {
	ta := newTestApp(t)
	resp := ta.get(t, "/pages/donated?userId=u-alice", "sid-alice")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body(t, resp), "Thank you")
	require.Len(t, ta.logged("donation.success"), 1)
}

func TestHealthAndMetrics(t *testing.T) {
	ta := newTestApp(t)
	ta.create(t, "sid-alice", guitar())

	resp := ta.get(t, "/healthz", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"ok":true}`, body(t, resp))

	resp = ta.get(t, "/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	m := body(t, resp)
	assert.Contains(t, m, `musicmarket_listing_actions_total{action="create",result="ok"} 1`)
	assert.Contains(t, m, "musicmarket_http_request_duration_seconds")
}

func TestRootRedirectsAndUnknownIs404(t *testing.T) {
	ta := newTestApp(t)
	assertRedirect(t, ta.get(t, "/", ""), "/listings")

	resp := ta.get(t, "/nowhere", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, body(t, resp), "Page not found")
}

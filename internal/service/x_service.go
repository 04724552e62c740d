package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/maheshrc27/threadflow/internal/apperr"
	"github.com/maheshrc27/threadflow/internal/clock"
	"github.com/maheshrc27/threadflow/internal/models"
	"github.com/maheshrc27/threadflow/internal/repository"
	"github.com/maheshrc27/threadflow/internal/transfer"
	"github.com/maheshrc27/threadflow/pkg/utils"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

const (
	xAuthURL          = "https://x.com/i/oauth2/authorize"
	xUploadChunkSize  = 4 << 20
	xMaxStatusChecks  = 60
	xRateLimitBackoff = 15 * time.Minute

	MediaCategoryVideo = "tweet_video"
	MediaCategoryImage = "tweet_image"
)

type SocialClient interface {
	UploadMedia(ctx context.Context, data []byte, mimeType, category string) (string, error)
	CreatePost(ctx context.Context, text string, mediaIDs []string, replyToID string) (string, error)
	PostURL(id string) string
}

type SocialClientFactory interface {
	ForAccount(ctx context.Context, accountID int64) (SocialClient, error)
}

type XConfig struct {
	ClientID      string
	ClientSecret  string
	APIBaseURL    string
	RatePerMinute int
}

type xClientFactory struct {
	cfg        XConfig
	accounts   repository.SocialAccountRepository
	cipher     *utils.TokenCipher
	limiter    *rate.Limiter
	clk        clock.Clock
	httpClient *http.Client
}

func NewXClientFactory(
	cfg XConfig,
	accounts repository.SocialAccountRepository,
	cipher *utils.TokenCipher,
	clk clock.Clock,
	httpClient *http.Client) SocialClientFactory {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 2 * time.Minute}
	}
	perMinute := cfg.RatePerMinute
	if perMinute <= 0 {
		perMinute = 50
	}
	burst := perMinute / 10
	if burst < 1 {
		burst = 1
	}
	return &xClientFactory{
		cfg:        cfg,
		accounts:   accounts,
		cipher:     cipher,
		limiter:    rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), burst),
		clk:        clk,
		httpClient: httpClient,
	}
}

func (f *xClientFactory) oauthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     f.cfg.ClientID,
		ClientSecret: f.cfg.ClientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:   xAuthURL,
			TokenURL:  strings.TrimRight(f.cfg.APIBaseURL, "/") + "/2/oauth2/token",
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}
}

func (f *xClientFactory) ForAccount(ctx context.Context, accountID int64) (SocialClient, error) {
	acc, err := f.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if acc == nil || !acc.Active() {
		return nil, apperr.Auth("social account is not connected")
	}

	access, err := f.cipher.Decrypt(acc.AccessToken)
	if err != nil {
		return nil, apperr.Auth("stored credentials could not be read").Wrap(err)
	}
	var refresh string
	if acc.RefreshToken != "" {
		if refresh, err = f.cipher.Decrypt(acc.RefreshToken); err != nil {
			return nil, apperr.Auth("stored credentials could not be read").Wrap(err)
		}
	}

	tok := &oauth2.Token{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		Expiry:       acc.TokenExpiresAt,
	}
	oauthCtx := context.WithValue(ctx, oauth2.HTTPClient, f.httpClient)
	src := &persistingTokenSource{
		base:    f.oauthConfig().TokenSource(oauthCtx, tok),
		current: acc.AccessToken,
		last:    access,
		save: func(t *oauth2.Token, oldEncrypted string) (string, error) {
			return f.saveToken(ctx, acc, t, oldEncrypted)
		},
	}

	return &xClient{
		http:      oauth2.NewClient(oauthCtx, src),
		baseURL:   strings.TrimRight(f.cfg.APIBaseURL, "/"),
		username:  acc.Username,
		limiter:   f.limiter,
		clk:       f.clk,
		chunkSize: xUploadChunkSize,
	}, nil
}

func (f *xClientFactory) saveToken(ctx context.Context, acc *models.SocialAccount, t *oauth2.Token, oldEncrypted string) (string, error) {
	encAccess, err := f.cipher.Encrypt(t.AccessToken)
	if err != nil {
		return "", err
	}
	updated := models.SocialAccount{AccessToken: encAccess, TokenExpiresAt: t.Expiry}
	if t.RefreshToken != "" {
		if updated.RefreshToken, err = f.cipher.Encrypt(t.RefreshToken); err != nil {
			return "", err
		}
	}
	if err := f.accounts.SetToken(ctx, acc.ID, oldEncrypted, &updated); err != nil {
		return "", err
	}
	log.Info().Int64("account_id", acc.ID).Msg("refreshed x token stored")
	return encAccess, nil
}

// persistingTokenSource writes rotated tokens back to the account row.
type persistingTokenSource struct {
	base oauth2.TokenSource
	save func(t *oauth2.Token, oldEncrypted string) (string, error)

	mu      sync.Mutex
	current string // encrypted access token as stored
	last    string // plaintext access token last handed out
}

func (p *persistingTokenSource) Token() (*oauth2.Token, error) {
	t, err := p.base.Token()
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if t.AccessToken != p.last {
		enc, err := p.save(t, p.current)
		if err != nil {
			log.Warn().Err(err).Msg("persist refreshed token")
		} else {
			p.current = enc
		}
		p.last = t.AccessToken
	}
	return t, nil
}

type xClient struct {
	http      *http.Client
	baseURL   string
	username  string
	limiter   *rate.Limiter
	clk       clock.Clock
	chunkSize int
}

func (c *xClient) PostURL(id string) string {
	user := c.username
	if user == "" {
		user = "i/web"
	}
	return fmt.Sprintf("https://x.com/%s/status/%s", user, id)
}

func (c *xClient) CreatePost(ctx context.Context, text string, mediaIDs []string, replyToID string) (string, error) {
	body := transfer.XPostRequest{Text: text}
	if len(mediaIDs) > 0 {
		body.Media = &transfer.XPostMedia{MediaIDs: mediaIDs}
	}
	if replyToID != "" {
		body.Reply = &transfer.XPostReplyTo{InReplyToTweetID: replyToID}
	}

	var out transfer.XPostResponse
	if err := c.doJSON(ctx, http.MethodPost, "/2/tweets", body, &out, false); err != nil {
		return "", err
	}
	if out.Data.ID == "" {
		return "", apperr.External(apperr.ReasonUpstream, "x returned no post id")
	}
	return out.Data.ID, nil
}

func (c *xClient) UploadMedia(ctx context.Context, data []byte, mimeType, category string) (string, error) {
	var initResp transfer.XMediaResponse
	initReq := transfer.XMediaInitRequest{MediaType: mimeType, TotalBytes: len(data), MediaCategory: category}
	if err := c.doJSON(ctx, http.MethodPost, "/2/media/upload/initialize", initReq, &initResp, true); err != nil {
		return "", err
	}
	mediaID := initResp.Data.ID
	if mediaID == "" {
		return "", apperr.External(apperr.ReasonUpstream, "x returned no media id")
	}

	for seg, off := 0, 0; off < len(data); seg, off = seg+1, off+c.chunkSize {
		end := off + c.chunkSize
		if end > len(data) {
			end = len(data)
		}
		if err := c.appendChunk(ctx, mediaID, seg, data[off:end]); err != nil {
			return "", err
		}
	}

	var fin transfer.XMediaResponse
	if err := c.doJSON(ctx, http.MethodPost, "/2/media/upload/"+url.PathEscape(mediaID)+"/finalize", nil, &fin, true); err != nil {
		return "", err
	}
	if err := c.waitProcessed(ctx, mediaID, fin.Data.ProcessingInfo); err != nil {
		return "", err
	}

	log.Info().Str("media_id", mediaID).Int("bytes", len(data)).Msg("media uploaded to x")
	return mediaID, nil
}

func (c *xClient) appendChunk(ctx context.Context, mediaID string, segment int, chunk []byte) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("segment_index", strconv.Itoa(segment)); err != nil {
		return err
	}
	part, err := w.CreateFormFile("media", "chunk")
	if err != nil {
		return err
	}
	if _, err := part.Write(chunk); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/2/media/upload/"+url.PathEscape(mediaID)+"/append", &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	_, err = c.do(req, true)
	return err
}

func (c *xClient) waitProcessed(ctx context.Context, mediaID string, info *transfer.XProcessingInfo) error {
	for i := 0; info != nil; i++ {
		switch info.State {
		case "succeeded", "":
			return nil
		case "failed":
			msg := "x could not process the media"
			if info.Error != nil && info.Error.Message != "" {
				msg = info.Error.Message
			}
			return apperr.Validation(apperr.ReasonBadFormat, msg)
		}
		if i >= xMaxStatusChecks {
			return apperr.Timeout(apperr.ReasonUpstream, "x media processing did not finish in time")
		}

		wait := time.Duration(info.CheckAfterSecs) * time.Second
		if wait < time.Second {
			wait = time.Second
		}
		if err := c.clk.Sleep(ctx, wait); err != nil {
			return err
		}

		var status transfer.XMediaResponse
		path := "/2/media/upload?command=STATUS&media_id=" + url.QueryEscape(mediaID)
		if err := c.doJSON(ctx, http.MethodGet, path, nil, &status, true); err != nil {
			return err
		}
		info = status.Data.ProcessingInfo
	}
	return nil
}

func (c *xClient) doJSON(ctx context.Context, method, path string, in, out interface{}, upload bool) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	raw, err := c.do(req, upload)
	if err != nil {
		return err
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return apperr.External(apperr.ReasonUpstream, "unexpected response from x").Wrap(err)
	}
	return nil
}

func (c *xClient) do(req *http.Request, upload bool) ([]byte, error) {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			return nil, apperr.Auth("x authorization expired, reconnect the account").Wrap(err)
		}
		return nil, apperr.External(apperr.ReasonUpstream, "x request failed").Wrap(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, apperr.External(apperr.ReasonUpstream, "x response unreadable").Wrap(err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return raw, nil
	}
	return nil, c.statusError(resp, raw, upload)
}

func (c *xClient) statusError(resp *http.Response, body []byte, upload bool) error {
	detail := http.StatusText(resp.StatusCode)
	var xe transfer.XErrorResponse
	if json.Unmarshal(body, &xe) == nil {
		switch {
		case xe.Detail != "":
			detail = xe.Detail
		case len(xe.Errors) > 0 && xe.Errors[0].Message != "":
			detail = xe.Errors[0].Message
		case xe.Title != "":
			detail = xe.Title
		}
	}

	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		retryAt := c.clk.Now().Add(xRateLimitBackoff)
		if reset, err := strconv.ParseInt(resp.Header.Get("x-rate-limit-reset"), 10, 64); err == nil && reset > 0 {
			retryAt = time.Unix(reset, 0)
		}
		return apperr.RateLimited("x rate limit reached", retryAt)
	case http.StatusUnauthorized:
		return apperr.Auth("x rejected the account credentials: " + detail)
	case http.StatusForbidden:
		return apperr.External(apperr.ReasonPermissionDenied, "x denied the request: "+detail)
	case http.StatusRequestEntityTooLarge:
		return apperr.Validation(apperr.ReasonPayloadTooLarge, "media is too large for x: "+detail)
	case http.StatusBadRequest:
		if upload {
			return apperr.Validation(apperr.ReasonBadFormat, "x rejected the media: "+detail)
		}
	}
	return apperr.External(apperr.ReasonUpstream, fmt.Sprintf("x returned %d: %s", resp.StatusCode, detail))
}

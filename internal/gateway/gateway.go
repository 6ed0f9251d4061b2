// Package gateway mediates between the portal's API layer and its two
// backing stores. It owns input validation, password hashing, object key
// derivation and every authorization decision about who may see which
// files.
package gateway

import (
	"bytes"
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/nammalwarsai/skill3-cie/internal/model"
	"github.com/nammalwarsai/skill3-cie/internal/queue"
	"github.com/nammalwarsai/skill3-cie/internal/store"
	"github.com/nammalwarsai/skill3-cie/internal/utils"
)

// Defaults applied by New.
const (
	DefaultMaxUploadBytes = 10 << 20
	DefaultLinkTTL        = time.Hour
	DefaultStoreTimeout   = 5 * time.Second
	DefaultAttempts       = 3
	DefaultBackoff        = 100 * time.Millisecond
)

// keyCollisionRetries bounds how many fresh stamps UploadFile draws when a
// key is already taken.
const keyCollisionRetries = 3

// EventPublisher receives audit events. Failures are logged, never returned
// to the caller of the gateway operation.
type EventPublisher interface {
	Publish(ctx context.Context, ev queue.AuditEvent) error
}

// Gateway is safe for concurrent use.
type Gateway struct {
	records store.RecordStore
	blobs   store.BlobStore

	now        func() time.Time
	maxUpload  int64
	linkTTL    time.Duration
	timeout    time.Duration
	attempts   int
	backoff    time.Duration
	bcryptCost int
	events     EventPublisher
	log        zerolog.Logger

	stamps    *stamper
	dummyOnce sync.Once
	dummyHash string
}

// Option customises a Gateway.
type Option func(*Gateway)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(g *Gateway) { g.now = now } }

// WithMaxUploadBytes bounds accepted file sizes.
func WithMaxUploadBytes(n int64) Option { return func(g *Gateway) { g.maxUpload = n } }

// WithLinkTTL sets the lifetime of issued download links.
func WithLinkTTL(d time.Duration) Option { return func(g *Gateway) { g.linkTTL = d } }

// WithStoreTimeout bounds each individual store call.
func WithStoreTimeout(d time.Duration) Option { return func(g *Gateway) { g.timeout = d } }

// WithRetry sets the attempt count and initial backoff for transient store errors.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(g *Gateway) { g.attempts, g.backoff = attempts, backoff }
}

// WithBcryptCost sets the password hashing cost.
func WithBcryptCost(cost int) Option { return func(g *Gateway) { g.bcryptCost = cost } }

// WithEvents attaches an audit event publisher.
func WithEvents(p EventPublisher) Option { return func(g *Gateway) { g.events = p } }

// WithLogger attaches a logger.
func WithLogger(l zerolog.Logger) Option { return func(g *Gateway) { g.log = l } }

// New wires a gateway to its stores.
func New(records store.RecordStore, blobs store.BlobStore, opts ...Option) *Gateway {
	if records == nil || blobs == nil {
		panic("nil store passed to gateway.New")
	}
	g := &Gateway{
		records:    records,
		blobs:      blobs,
		now:        time.Now,
		maxUpload:  DefaultMaxUploadBytes,
		linkTTL:    DefaultLinkTTL,
		timeout:    DefaultStoreTimeout,
		attempts:   DefaultAttempts,
		backoff:    DefaultBackoff,
		bcryptCost: bcrypt.DefaultCost,
		log:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.attempts < 1 {
		g.attempts = 1
	}
	g.stamps = &stamper{now: g.now}
	return g
}

// RegisterInput carries the fields of a new patient account.
type RegisterInput struct {
	Username string
	Password string
	Email    string
	Name     string
}

// DoctorInput carries the fields of a new doctor account.
type DoctorInput struct {
	Username string
	Password string
	DoctorID string
	Email    string
	Name     string
}

// Register creates a patient account. It does not log the user in.
func (g *Gateway) Register(ctx context.Context, in RegisterInput) (model.Profile, error) {
	acct, err := g.newAccount(in.Username, in.Password, in.Email, in.Name)
	if err != nil {
		return model.Profile{}, err
	}
	acct.Role = model.RolePatient
	if err := g.insert(ctx, acct); err != nil {
		return model.Profile{}, err
	}
	g.log.Info().Str("username", acct.Username).Msg("patient registered")
	g.publish(ctx, queue.AuditEvent{
		Type:      queue.EventPatientRegistered,
		Actor:     acct.Username,
		ActorRole: model.RolePatient,
		Username:  acct.Username,
	})
	return acct.Profile(), nil
}

// CreateDoctor provisions a doctor account. It is meant for operators and
// is not exposed over HTTP.
func (g *Gateway) CreateDoctor(ctx context.Context, in DoctorInput) (model.Profile, error) {
	if in.DoctorID == "" {
		return model.Profile{}, invalid("doctor id is required")
	}
	acct, err := g.newAccount(in.Username, in.Password, in.Email, in.Name)
	if err != nil {
		return model.Profile{}, err
	}
	acct.Role = model.RoleDoctor
	acct.DoctorID = in.DoctorID
	if err := g.insert(ctx, acct); err != nil {
		return model.Profile{}, err
	}
	g.log.Info().Str("username", acct.Username).Msg("doctor account created")
	return acct.Profile(), nil
}

func (g *Gateway) newAccount(username, password, email, name string) (model.Account, error) {
	if err := ValidateUsername(username); err != nil {
		return model.Account{}, err
	}
	if password == "" {
		return model.Account{}, invalid("password is required")
	}
	if len(password) > utils.MaxPasswordBytes {
		return model.Account{}, invalid("password must be at most %d bytes", utils.MaxPasswordBytes)
	}
	hash, err := utils.HashPassword(password, g.bcryptCost)
	if err != nil {
		return model.Account{}, fmt.Errorf("hash password: %w", err)
	}
	return model.Account{
		Username:     username,
		PasswordHash: hash,
		Email:        email,
		Name:         name,
		CreatedAt:    g.now().UTC(),
	}, nil
}

// insert reserves the account's folder prefix and then writes the account.
// Both writes are conditional, so of two usernames sharing a prefix only
// the first to reserve it can ever be created.
func (g *Gateway) insert(ctx context.Context, acct model.Account) error {
	if err := g.reservePrefix(ctx, acct.Username); err != nil {
		return err
	}
	err := g.putAccount(ctx, acct)
	if errors.Is(err, store.ErrAlreadyExists) {
		return ErrDuplicateUser
	}
	return err
}

// reservePrefix writes the prefix hold record for username. A hold already
// owned by username is accepted: it is left behind by an earlier attempt
// whose account write failed, or by a concurrent registration of the same
// name that the account write will settle.
func (g *Gateway) reservePrefix(ctx context.Context, username string) error {
	hold := model.Account{
		Username:  prefixHoldKey(UserPrefix(username)),
		Role:      model.RolePrefixHold,
		Owner:     username,
		CreatedAt: g.now().UTC(),
	}
	err := g.call(ctx, "records.reserve", func(ctx context.Context) error {
		return g.records.PutIfAbsent(ctx, hold)
	})
	if !errors.Is(err, store.ErrAlreadyExists) {
		return err
	}
	held, err := g.getRecord(ctx, hold.Username)
	if errors.Is(err, errUserNotFound) {
		return fmt.Errorf("%w (records.reserve: hold vanished)", ErrStoreUnavailable)
	}
	if err != nil {
		return err
	}
	if held.Owner != username {
		g.log.Warn().Str("username", username).Str("holder", held.Owner).Msg("folder prefix already taken")
		return ErrDuplicateUser
	}
	return nil
}

// putAccount writes acct once. When a retry meets ErrAlreadyExists the
// earlier attempt may have landed before its error, so the stored record
// is read back; a matching bcrypt hash (salted, hence unique) proves it is
// ours.
func (g *Gateway) putAccount(ctx context.Context, acct model.Account) error {
	attempt := 0
	return g.call(ctx, "records.put", func(ctx context.Context) error {
		attempt++
		err := g.records.PutIfAbsent(ctx, acct)
		if attempt == 1 || !errors.Is(err, store.ErrAlreadyExists) {
			return err
		}
		cur, gerr := g.records.Get(ctx, acct.Username)
		if gerr != nil && !errors.Is(gerr, store.ErrNotFound) {
			return gerr
		}
		if gerr == nil && cur.PasswordHash == acct.PasswordHash {
			g.log.Info().Str("username", acct.Username).Msg("account write landed on an earlier attempt")
			return nil
		}
		return err
	})
}

// Authenticate checks a patient's password and returns the profile.
// Unknown usernames and wrong passwords are indistinguishable.
func (g *Gateway) Authenticate(ctx context.Context, username, password string) (model.Profile, error) {
	if username == "" || password == "" {
		return model.Profile{}, invalid("username and password are required")
	}
	acct, err := g.lookup(ctx, username)
	if errors.Is(err, errUserNotFound) {
		g.burnPasswordCheck(password)
		return model.Profile{}, ErrInvalidCredentials
	}
	if err != nil {
		return model.Profile{}, err
	}
	passOK := utils.VerifyPassword(acct.PasswordHash, password)
	if !passOK || !acct.IsPatient() {
		return model.Profile{}, ErrInvalidCredentials
	}
	return acct.Profile(), nil
}

// AuthenticateDoctor checks a doctor's name, password and staff id against
// a DOCTOR account record.
func (g *Gateway) AuthenticateDoctor(ctx context.Context, name, password, doctorID string) (model.Profile, error) {
	if name == "" || password == "" || doctorID == "" {
		return model.Profile{}, invalid("name, password and doctor id are required")
	}
	acct, err := g.lookup(ctx, name)
	if errors.Is(err, errUserNotFound) {
		g.burnPasswordCheck(password)
		return model.Profile{}, ErrInvalidCredentials
	}
	if err != nil {
		return model.Profile{}, err
	}
	passOK := utils.VerifyPassword(acct.PasswordHash, password)
	idOK := subtle.ConstantTimeCompare([]byte(acct.DoctorID), []byte(doctorID)) == 1
	if !passOK || !idOK || !acct.IsDoctor() {
		return model.Profile{}, ErrInvalidCredentials
	}
	return acct.Profile(), nil
}

// lookup fetches an account. Prefix holds are not accounts and read as
// missing.
func (g *Gateway) lookup(ctx context.Context, username string) (model.Account, error) {
	acct, err := g.getRecord(ctx, username)
	if err == nil && acct.Role == model.RolePrefixHold {
		return model.Account{}, errUserNotFound
	}
	return acct, err
}

func (g *Gateway) getRecord(ctx context.Context, key string) (model.Account, error) {
	var acct model.Account
	err := g.call(ctx, "records.get", func(ctx context.Context) error {
		var err error
		acct, err = g.records.Get(ctx, key)
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		return model.Account{}, errUserNotFound
	}
	return acct, err
}

// burnPasswordCheck spends the same bcrypt work as a real comparison.
func (g *Gateway) burnPasswordCheck(password string) {
	g.dummyOnce.Do(func() {
		h, err := utils.HashPassword(uuid.NewString(), g.bcryptCost)
		if err == nil {
			g.dummyHash = h
		}
	})
	if g.dummyHash != "" {
		utils.VerifyPassword(g.dummyHash, password)
	}
}

// UploadFile stores a file under the user's folder and returns the object
// descriptor with the assigned key.
func (g *Gateway) UploadFile(ctx context.Context, username, fileName, contentType string, body io.Reader, size int64) (model.FileObject, error) {
	if err := ValidateUsername(username); err != nil {
		return model.FileObject{}, err
	}
	if err := ValidateFileName(fileName); err != nil {
		return model.FileObject{}, err
	}
	if size <= 0 {
		return model.FileObject{}, invalid("file is empty")
	}
	if size > g.maxUpload {
		return model.FileObject{}, ErrFileTooLarge
	}

	rs, ok := body.(io.ReadSeeker)
	if !ok {
		buf, err := io.ReadAll(io.LimitReader(body, size+1))
		if err != nil {
			return model.FileObject{}, fmt.Errorf("read upload: %w", err)
		}
		if int64(len(buf)) != size {
			return model.FileObject{}, invalid("file size does not match content")
		}
		rs = bytes.NewReader(buf)
	}
	start, err := rs.Seek(0, io.SeekCurrent)
	if err != nil {
		return model.FileObject{}, fmt.Errorf("seek upload: %w", err)
	}

	folder := UserFolder(username)
	for i := 0; i < keyCollisionRetries; i++ {
		key := fmt.Sprintf("%s%d_%s", folder, g.stamps.next(), fileName)
		attempt := 0
		err = g.call(ctx, "blobs.put", func(ctx context.Context) error {
			attempt++
			if attempt > 1 {
				// A failed attempt may still have stored the object.
				landed, err := g.blobs.Exists(ctx, key)
				if err != nil {
					return err
				}
				if landed {
					return nil
				}
			}
			if _, err := rs.Seek(start, io.SeekStart); err != nil {
				return err
			}
			return g.blobs.PutIfAbsent(ctx, key, contentType, rs, size)
		})
		if errors.Is(err, store.ErrAlreadyExists) {
			g.log.Warn().Str("key", key).Msg("object key collision; drawing a new stamp")
			continue
		}
		if err != nil {
			return model.FileObject{}, err
		}
		g.log.Info().Str("username", username).Str("key", key).Int64("size", size).Msg("file uploaded")
		g.publish(ctx, queue.AuditEvent{
			Type:      queue.EventFileUploaded,
			Actor:     username,
			ActorRole: model.RolePatient,
			Username:  username,
			Key:       key,
			Size:      size,
		})
		return model.FileObject{
			Key:          key,
			Name:         fileName,
			Size:         size,
			LastModified: g.now().UTC(),
		}, nil
	}
	return model.FileObject{}, fmt.Errorf("%w (blobs.put: key collisions)", ErrStoreUnavailable)
}

// ListFiles returns the objects in username's folder. Patients may only
// list their own folder; doctors may list anyone's.
func (g *Gateway) ListFiles(ctx context.Context, caller model.Principal, username string) ([]model.FileObject, error) {
	if err := ValidateUsername(username); err != nil {
		return nil, err
	}
	if !caller.IsDoctor() && caller.Username != username {
		return nil, ErrUnauthorized
	}
	var files []model.FileObject
	err := g.call(ctx, "blobs.list", func(ctx context.Context) error {
		var err error
		files, err = g.blobs.ListByPrefix(ctx, UserFolder(username))
		return err
	})
	if err != nil {
		return nil, err
	}
	if files == nil {
		files = []model.FileObject{}
	}
	return files, nil
}

// IssueDownloadLink returns a signed URL for key. The caller must own the
// key's folder or be a doctor, and the object must exist.
func (g *Gateway) IssueDownloadLink(ctx context.Context, caller model.Principal, key string) (model.DownloadLink, error) {
	prefix, _, ok := ParseFileKey(key)
	if !ok {
		return model.DownloadLink{}, invalid("malformed file key")
	}
	if !caller.IsDoctor() && (caller.Username == "" || prefix != UserPrefix(caller.Username)) {
		g.log.Warn().Str("caller", caller.Username).Str("key", key).Msg("download link denied")
		return model.DownloadLink{}, ErrUnauthorized
	}

	var exists bool
	err := g.call(ctx, "blobs.head", func(ctx context.Context) error {
		var err error
		exists, err = g.blobs.Exists(ctx, key)
		return err
	})
	if err != nil {
		return model.DownloadLink{}, err
	}
	if !exists {
		return model.DownloadLink{}, ErrNotFound
	}

	issued := g.now()
	var url string
	err = g.call(ctx, "blobs.sign", func(ctx context.Context) error {
		var err error
		url, err = g.blobs.SignedGetURL(ctx, key, g.linkTTL)
		return err
	})
	if err != nil {
		return model.DownloadLink{}, err
	}
	g.publish(ctx, queue.AuditEvent{
		Type:      queue.EventLinkIssued,
		Actor:     caller.Username,
		ActorRole: caller.Role,
		Key:       key,
	})
	return model.DownloadLink{Key: key, URL: url, ExpiresAt: issued.Add(g.linkTTL).UTC()}, nil
}

// ListAllPatients returns every patient profile ordered by username.
// Doctor accounts and prefix holds are excluded. Only doctors may call it.
func (g *Gateway) ListAllPatients(ctx context.Context, caller model.Principal) ([]model.Profile, error) {
	if !caller.IsDoctor() {
		return nil, ErrUnauthorized
	}
	var accts []model.Account
	err := g.call(ctx, "records.scan", func(ctx context.Context) error {
		var err error
		accts, err = g.records.ScanAll(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	out := make([]model.Profile, 0, len(accts))
	for _, a := range accts {
		if !a.IsPatient() {
			continue
		}
		out = append(out, a.Profile())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (g *Gateway) publish(ctx context.Context, ev queue.AuditEvent) {
	if g.events == nil {
		return
	}
	ev.ID = uuid.NewString()
	ev.OccurredAt = g.now().UTC().Format(time.RFC3339Nano)
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := g.events.Publish(pctx, ev); err != nil {
		g.log.Warn().Err(err).Str("event", ev.Type).Msg("audit event not published")
	}
}

// Package dynamo stores reservations in a single DynamoDB table.
//
// Three kinds of item share the table:
//
//	PK=RES#<id>              SK=RES                a reservation
//	PK=RESOURCE#<id>         SK=CALENDAR           active reservations of a resource
//	PK=PRINCIPAL#<id>        SK=MONTH#<yyyy-mm>    active reservations of a principal starting in that month
//
// Every item carries a version. A transaction remembers the version of each
// item it read and commits with TransactWriteItems, conditioning every read
// item on that version being unchanged.
package dynamo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"staybook/internal/booking"
)

// API is the subset of the DynamoDB client the store uses.
type API interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
}

// NewClient builds a DynamoDB client. A non-empty endpoint targets a local
// DynamoDB with static credentials.
func NewClient(ctx context.Context, region, endpoint string) (*dynamodb.Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	if endpoint == "" {
		return dynamodb.NewFromConfig(cfg), nil
	}
	return dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.Credentials = credentials.NewStaticCredentialsProvider("local", "local", "")
	}), nil
}

// Store implements booking.Store.
type Store struct {
	api   API
	table string
	clock booking.Clock
}

type Option func(*Store)

// WithClock sets the clock that decides which stays are over.
func WithClock(c booking.Clock) Option {
	return func(s *Store) { s.clock = c }
}

func New(api API, table string, opts ...Option) *Store {
	s := &Store{api: api, table: table, clock: booking.SystemClock{}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EnsureTable creates the table if it does not exist yet.
func (s *Store) EnsureTable(ctx context.Context) error {
	_, err := s.api.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(s.table),
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String("PK"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("SK"), AttributeType: types.ScalarAttributeTypeS},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String("PK"), KeyType: types.KeyTypeHash},
			{AttributeName: aws.String("SK"), KeyType: types.KeyTypeRange},
		},
		BillingMode: types.BillingModePayPerRequest,
	})
	var inUse *types.ResourceInUseException
	if err != nil && !errors.As(err, &inUse) {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	return nil
}

type itemKey struct {
	pk, sk string
}

func reservationKey(id string) itemKey {
	return itemKey{pk: "RES#" + id, sk: "RES"}
}

const calendarSK = "CALENDAR"

func calendarKey(resourceID string) itemKey {
	return itemKey{pk: "RESOURCE#" + resourceID, sk: calendarSK}
}

func monthKey(principalID string, m booking.Month) itemKey {
	return itemKey{pk: "PRINCIPAL#" + principalID, sk: "MONTH#" + m.String()}
}

func (k itemKey) attributes() map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: k.pk},
		"SK": &types.AttributeValueMemberS{Value: k.sk},
	}
}

// RunInTx implements booking.Store.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx booking.Tx) error) error {
	t := &tx{store: s, items: make(map[itemKey]*item)}
	if err := fn(ctx, t); err != nil {
		if booking.IsDomainError(err) {
			return err
		}
		return fmt.Errorf("%w: %v", booking.ErrStoreUnavailable, err)
	}
	return t.commit(ctx)
}

// ActiveByResource implements booking.Store. The read is strongly consistent
// so that a snapshot fill never caches a range cancelled a moment ago.
func (s *Store) ActiveByResource(ctx context.Context, resourceID string) ([]booking.Reservation, error) {
	it, err := s.get(ctx, calendarKey(resourceID), true)
	if err != nil {
		return nil, err
	}
	return decodeList(it.body)
}

type item struct {
	version int64 // 0 when the item did not exist
	body    []byte
	dirty   bool
}

func (s *Store) get(ctx context.Context, key itemKey, consistent bool) (*item, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            key.attributes(),
		ConsistentRead: aws.Bool(consistent),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: get %s/%s: %v", booking.ErrStoreUnavailable, key.pk, key.sk, err)
	}
	if out.Item == nil {
		return &item{}, nil
	}

	it := &item{}
	if v, ok := out.Item["version"].(*types.AttributeValueMemberN); ok {
		it.version, err = strconv.ParseInt(v.Value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: bad version on %s: %v", booking.ErrStoreUnavailable, key.pk, err)
		}
	}
	if b, ok := out.Item["body"].(*types.AttributeValueMemberS); ok {
		it.body = []byte(b.Value)
	}
	return it, nil
}

type tx struct {
	store *Store
	items map[itemKey]*item
}

// load returns the item as this transaction sees it. The first read of a key
// fixes the version the commit is conditioned on.
func (t *tx) load(ctx context.Context, key itemKey) (*item, error) {
	if it, ok := t.items[key]; ok {
		return it, nil
	}
	it, err := t.store.get(ctx, key, true)
	if err != nil {
		return nil, err
	}
	t.items[key] = it
	return it, nil
}

func (t *tx) loadList(ctx context.Context, key itemKey) (*item, []booking.Reservation, error) {
	it, err := t.load(ctx, key)
	if err != nil {
		return nil, nil, err
	}
	list, err := decodeList(it.body)
	if err != nil {
		return nil, nil, err
	}
	return it, list, nil
}

func (t *tx) ActiveByResource(ctx context.Context, resourceID string) ([]booking.Reservation, error) {
	_, list, err := t.loadList(ctx, calendarKey(resourceID))
	return list, err
}

func (t *tx) ActiveByPrincipal(ctx context.Context, principalID string, month booking.Month) ([]booking.Reservation, error) {
	_, list, err := t.loadList(ctx, monthKey(principalID, month))
	return list, err
}

func (t *tx) Get(ctx context.Context, id string) (booking.Reservation, error) {
	it, err := t.load(ctx, reservationKey(id))
	if err != nil {
		return booking.Reservation{}, err
	}
	if it.body == nil {
		return booking.Reservation{}, fmt.Errorf("%w: %s", booking.ErrReservationNotFound, id)
	}
	var r booking.Reservation
	if err := json.Unmarshal(it.body, &r); err != nil {
		return booking.Reservation{}, fmt.Errorf("%w: decode reservation %s: %v", booking.ErrStoreUnavailable, id, err)
	}
	return r, nil
}

func (t *tx) Put(ctx context.Context, r booking.Reservation) error {
	res, err := t.load(ctx, reservationKey(r.ID))
	if err != nil {
		return err
	}
	if res.body != nil {
		return fmt.Errorf("%w: reservation %s already exists", booking.ErrTransientConflict, r.ID)
	}
	if err := setBody(res, r); err != nil {
		return err
	}

	for _, key := range []itemKey{calendarKey(r.ResourceID), monthKey(r.PrincipalID, booking.MonthOf(r.Range.From))} {
		it, list, err := t.loadList(ctx, key)
		if err != nil {
			return err
		}
		if key.sk == calendarSK {
			list = t.upcoming(list)
		}
		list = append(list, r)
		sort.Slice(list, func(i, j int) bool { return list[i].Range.From.Before(list[j].Range.From) })
		if err := setBody(it, list); err != nil {
			return err
		}
	}
	return nil
}

// upcoming drops the stays that ended before today. Only the calendar item is
// pruned; a month item stays whole since it backs the monthly limit.
func (t *tx) upcoming(list []booking.Reservation) []booking.Reservation {
	today := booking.Normalize(t.store.clock.Now())
	kept := list[:0]
	for _, r := range list {
		if !r.Range.To.Before(today) {
			kept = append(kept, r)
		}
	}
	return kept
}

func (t *tx) Cancel(ctx context.Context, id string, at time.Time) error {
	r, err := t.Get(ctx, id)
	if err != nil {
		return err
	}
	if !r.Active() {
		return fmt.Errorf("%w: reservation %s is no longer active", booking.ErrTransientConflict, id)
	}

	r.Status = booking.StatusCancelled
	cancelledAt := at.UTC()
	r.CancelledAt = &cancelledAt
	if err := setBody(t.items[reservationKey(id)], r); err != nil {
		return err
	}

	for _, key := range []itemKey{calendarKey(r.ResourceID), monthKey(r.PrincipalID, booking.MonthOf(r.Range.From))} {
		it, list, err := t.loadList(ctx, key)
		if err != nil {
			return err
		}
		kept := list[:0]
		for _, other := range list {
			if other.ID != id {
				kept = append(kept, other)
			}
		}
		if key.sk == calendarSK {
			kept = t.upcoming(kept)
		}
		if err := setBody(it, kept); err != nil {
			return err
		}
	}
	return nil
}

func (t *tx) commit(ctx context.Context) error {
	var writes []types.TransactWriteItem
	dirty := false
	for key, it := range t.items {
		condition, values := versionCondition(it.version)
		if !it.dirty {
			writes = append(writes, types.TransactWriteItem{ConditionCheck: &types.ConditionCheck{
				TableName:                 aws.String(t.store.table),
				Key:                       key.attributes(),
				ConditionExpression:       aws.String(condition),
				ExpressionAttributeValues: values,
			}})
			continue
		}
		dirty = true
		attrs := key.attributes()
		attrs["version"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(it.version+1, 10)}
		attrs["body"] = &types.AttributeValueMemberS{Value: string(it.body)}
		writes = append(writes, types.TransactWriteItem{Put: &types.Put{
			TableName:                 aws.String(t.store.table),
			Item:                      attrs,
			ConditionExpression:       aws.String(condition),
			ExpressionAttributeValues: values,
		}})
	}
	if !dirty {
		return nil
	}

	_, err := t.store.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: writes})
	return classify(err)
}

func versionCondition(version int64) (string, map[string]types.AttributeValue) {
	if version == 0 {
		return "attribute_not_exists(PK)", nil
	}
	return "version = :expected", map[string]types.AttributeValue{
		":expected": &types.AttributeValueMemberN{Value: strconv.FormatInt(version, 10)},
	}
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	var (
		cancelled  *types.TransactionCanceledException
		inProgress *types.TransactionInProgressException
		condFailed *types.ConditionalCheckFailedException
	)
	if errors.As(err, &cancelled) || errors.As(err, &inProgress) || errors.As(err, &condFailed) {
		return fmt.Errorf("%w: %v", booking.ErrTransientConflict, err)
	}
	return fmt.Errorf("%w: transact write: %v", booking.ErrStoreUnavailable, err)
}

func setBody(it *item, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: encode item: %v", booking.ErrStoreUnavailable, err)
	}
	it.body = body
	it.dirty = true
	return nil
}

func decodeList(body []byte) ([]booking.Reservation, error) {
	if body == nil {
		return nil, nil
	}
	var list []booking.Reservation
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("%w: decode reservation list: %v", booking.ErrStoreUnavailable, err)
	}
	return list, nil
}

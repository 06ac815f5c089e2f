package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/example/atelier-shop/internal/domain/cart"
	"github.com/example/atelier-shop/internal/domain/order"
	"github.com/example/atelier-shop/internal/domain/product"
)

// DynamoStore implements ProductStore, CartStore and OrderStore on
// DynamoDB. Reservation and lifecycle races are resolved with conditional
// writes (ConditionExpression), never read-then-write.
type DynamoStore struct {
	client        *dynamodb.Client
	productsTable string
	cartsTable    string
	ordersTable   string
}

const (
	ordersByUserIndex       = "user_id-index"
	ordersByShipmentIndex   = "shipment_id-index"
	ordersByPaymentRefIndex = "payment_ref-index"
)

func NewDynamoStore(client *dynamodb.Client, productsTable, cartsTable, ordersTable string) *DynamoStore {
	return &DynamoStore{
		client:        client,
		productsTable: productsTable,
		cartsTable:    cartsTable,
		ordersTable:   ordersTable,
	}
}

// dynamoProduct is the products table item. Reservation state lives in
// top-level attributes so conditional writes can reference it; the rest of
// the product rides along as a JSON document.
type dynamoProduct struct {
	ID            string `dynamodbav:"id"`
	Doc           string `dynamodbav:"doc"`
	Status        string `dynamodbav:"status"`
	ReservedBy    string `dynamodbav:"reserved_by"`
	ReservedUntil int64  `dynamodbav:"reserved_until"` // unix millis, 0 when unset
}

func (s *DynamoStore) Put(ctx context.Context, p *product.Product) error {
	doc, err := json.Marshal(p)
	if err != nil {
		return err
	}

	item := dynamoProduct{
		ID:     p.ID,
		Doc:    string(doc),
		Status: string(p.Status),
	}
	if !p.ReservedUntil.IsZero() {
		item.ReservedBy = p.ReservedBy
		item.ReservedUntil = p.ReservedUntil.UnixMilli()
	}

	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("failed to marshal product: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.productsTable),
		Item:      av,
	})
	return err
}

func (s *DynamoStore) Get(ctx context.Context, id string) (*product.Product, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.productsTable),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: id},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	if result.Item == nil {
		return nil, product.ErrNotFound
	}
	return unmarshalProduct(result.Item)
}

func (s *DynamoStore) List(ctx context.Context) ([]*product.Product, error) {
	result, err := s.client.Scan(ctx, &dynamodb.ScanInput{
		TableName: aws.String(s.productsTable),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan products: %w", err)
	}

	products := make([]*product.Product, 0, len(result.Items))
	for _, item := range result.Items {
		p, err := unmarshalProduct(item)
		if err != nil {
			continue
		}
		products = append(products, p)
	}
	return products, nil
}

func (s *DynamoStore) Delete(ctx context.Context, id string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.productsTable),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: id},
		},
		ConditionExpression: aws.String("attribute_exists(id)"),
	})
	if isConditionalCheckFailed(err) {
		return product.ErrNotFound
	}
	return err
}

func (s *DynamoStore) Reserve(ctx context.Context, productID, holderID string, until, now time.Time) error {
	// One conditional write decides the race: the hold is granted iff the
	// product is available, the recorded hold has lapsed, or the same
	// holder is refreshing its own hold.
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.productsTable),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: productID},
		},
		UpdateExpression: aws.String("SET #st = :reserved, reserved_by = :holder, reserved_until = :until"),
		ConditionExpression: aws.String(
			"attribute_exists(id) AND (#st = :available OR reserved_until < :now OR reserved_by = :holder)"),
		ExpressionAttributeNames: map[string]string{
			"#st": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":reserved":  &types.AttributeValueMemberS{Value: string(product.StatusReserved)},
			":available": &types.AttributeValueMemberS{Value: string(product.StatusAvailable)},
			":holder":    &types.AttributeValueMemberS{Value: holderID},
			":until":     &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", until.UnixMilli())},
			":now":       &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", now.UnixMilli())},
		},
	})
	if isConditionalCheckFailed(err) {
		// Disambiguate: a missing product and a live foreign hold both fail
		// the condition.
		if _, getErr := s.Get(ctx, productID); errors.Is(getErr, product.ErrNotFound) {
			return product.ErrNotFound
		}
		return product.ErrReserved
	}
	return err
}

func (s *DynamoStore) Release(ctx context.Context, productID, holderID string) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.productsTable),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: productID},
		},
		UpdateExpression:    aws.String("SET #st = :available, reserved_by = :none, reserved_until = :zero"),
		ConditionExpression: aws.String("attribute_exists(id) AND reserved_by = :holder"),
		ExpressionAttributeNames: map[string]string{
			"#st": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":available": &types.AttributeValueMemberS{Value: string(product.StatusAvailable)},
			":holder":    &types.AttributeValueMemberS{Value: holderID},
			":none":      &types.AttributeValueMemberS{Value: ""},
			":zero":      &types.AttributeValueMemberN{Value: "0"},
		},
	})
	if isConditionalCheckFailed(err) {
		return nil // released already, or held by someone else
	}
	return err
}

func unmarshalProduct(item map[string]types.AttributeValue) (*product.Product, error) {
	var dp dynamoProduct
	if err := attributevalue.UnmarshalMap(item, &dp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal product: %w", err)
	}

	var p product.Product
	if err := json.Unmarshal([]byte(dp.Doc), &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal product doc: %w", err)
	}

	// Reservation attributes are authoritative; the doc may predate the
	// latest conditional write.
	p.Status = product.Status(dp.Status)
	p.ReservedBy = dp.ReservedBy
	if dp.ReservedUntil > 0 {
		p.ReservedUntil = time.UnixMilli(dp.ReservedUntil).UTC()
	} else {
		p.ReservedUntil = time.Time{}
	}
	return &p, nil
}

// dynamoCart is the carts table item.
type dynamoCart struct {
	UserID    string `dynamodbav:"user_id"`
	Items     string `dynamodbav:"items"`
	ExpiresAt int64  `dynamodbav:"expires_at"` // unix millis, 0 when empty
}

func (s *DynamoStore) GetCart(ctx context.Context, userID string) (*cart.Cart, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.cartsTable),
		Key: map[string]types.AttributeValue{
			"user_id": &types.AttributeValueMemberS{Value: userID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}
	if result.Item == nil {
		return &cart.Cart{UserID: userID}, nil
	}
	return unmarshalCart(result.Item)
}

func (s *DynamoStore) SaveCart(ctx context.Context, c *cart.Cart) error {
	items, err := json.Marshal(c.Items)
	if err != nil {
		return err
	}

	item := dynamoCart{
		UserID: c.UserID,
		Items:  string(items),
	}
	if !c.ExpiresAt.IsZero() {
		item.ExpiresAt = c.ExpiresAt.UnixMilli()
	}

	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("failed to marshal cart: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.cartsTable),
		Item:      av,
	})
	return err
}

func (s *DynamoStore) DeleteCart(ctx context.Context, userID string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.cartsTable),
		Key: map[string]types.AttributeValue{
			"user_id": &types.AttributeValueMemberS{Value: userID},
		},
	})
	return err
}

func (s *DynamoStore) ListExpiredCarts(ctx context.Context, now time.Time) ([]*cart.Cart, error) {
	result, err := s.client.Scan(ctx, &dynamodb.ScanInput{
		TableName:        aws.String(s.cartsTable),
		FilterExpression: aws.String("expires_at > :zero AND expires_at <= :now"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":zero": &types.AttributeValueMemberN{Value: "0"},
			":now":  &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", now.UnixMilli())},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan expired carts: %w", err)
	}

	carts := make([]*cart.Cart, 0, len(result.Items))
	for _, item := range result.Items {
		c, err := unmarshalCart(item)
		if err != nil {
			continue
		}
		carts = append(carts, c)
	}
	return carts, nil
}

func (s *DynamoStore) NextCartExpiry(ctx context.Context) (time.Time, bool, error) {
	result, err := s.client.Scan(ctx, &dynamodb.ScanInput{
		TableName:            aws.String(s.cartsTable),
		FilterExpression:     aws.String("expires_at > :zero"),
		ProjectionExpression: aws.String("expires_at"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":zero": &types.AttributeValueMemberN{Value: "0"},
		},
	})
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to scan cart expiries: %w", err)
	}

	var min int64
	for _, item := range result.Items {
		var dc dynamoCart
		if err := attributevalue.UnmarshalMap(item, &dc); err != nil {
			continue
		}
		if min == 0 || dc.ExpiresAt < min {
			min = dc.ExpiresAt
		}
	}
	if min == 0 {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(min).UTC(), true, nil
}

func unmarshalCart(item map[string]types.AttributeValue) (*cart.Cart, error) {
	var dc dynamoCart
	if err := attributevalue.UnmarshalMap(item, &dc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cart: %w", err)
	}

	c := &cart.Cart{UserID: dc.UserID}
	if err := json.Unmarshal([]byte(dc.Items), &c.Items); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cart items: %w", err)
	}
	if dc.ExpiresAt > 0 {
		c.ExpiresAt = time.UnixMilli(dc.ExpiresAt).UTC()
	}
	return c, nil
}

// dynamoOrder is the orders table item. Status and shipment id are kept as
// top-level attributes for the conditional write and the GSI lookups; the
// full order rides along as a JSON document.
type dynamoOrder struct {
	ID         string `dynamodbav:"id"`
	UserID     string `dynamodbav:"user_id"`
	Status     string `dynamodbav:"status"`
	ShipmentID string `dynamodbav:"shipment_id"`
	PaymentRef string `dynamodbav:"payment_ref"`
	Doc        string `dynamodbav:"doc"`
}

func (s *DynamoStore) PutOrder(ctx context.Context, o *order.Order) error {
	av, err := marshalOrder(o)
	if err != nil {
		return err
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.ordersTable),
		Item:      av,
	})
	return err
}

func (s *DynamoStore) GetOrder(ctx context.Context, id string) (*order.Order, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.ordersTable),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: id},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	if result.Item == nil {
		return nil, order.ErrOrderNotFound
	}
	return unmarshalOrder(result.Item)
}

func (s *DynamoStore) GetOrderByShipmentID(ctx context.Context, shipmentID string) (*order.Order, error) {
	result, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.ordersTable),
		IndexName:              aws.String(ordersByShipmentIndex),
		KeyConditionExpression: aws.String("shipment_id = :sid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":sid": &types.AttributeValueMemberS{Value: shipmentID},
		},
		Limit: aws.Int32(1),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query order by shipment: %w", err)
	}
	if len(result.Items) == 0 {
		return nil, order.ErrOrderNotFound
	}
	return unmarshalOrder(result.Items[0])
}

func (s *DynamoStore) GetOrderByPaymentRef(ctx context.Context, paymentRef string) (*order.Order, error) {
	result, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.ordersTable),
		IndexName:              aws.String(ordersByPaymentRefIndex),
		KeyConditionExpression: aws.String("payment_ref = :ref"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":ref": &types.AttributeValueMemberS{Value: paymentRef},
		},
		Limit: aws.Int32(1),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query order by payment ref: %w", err)
	}
	if len(result.Items) == 0 {
		return nil, order.ErrOrderNotFound
	}
	return unmarshalOrder(result.Items[0])
}

func (s *DynamoStore) ListOrdersByUser(ctx context.Context, userID string) ([]*order.Order, error) {
	result, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.ordersTable),
		IndexName:              aws.String(ordersByUserIndex),
		KeyConditionExpression: aws.String("user_id = :uid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uid": &types.AttributeValueMemberS{Value: userID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query orders by user: %w", err)
	}
	return unmarshalOrders(result.Items), nil
}

func (s *DynamoStore) ListAllOrders(ctx context.Context) ([]*order.Order, error) {
	result, err := s.client.Scan(ctx, &dynamodb.ScanInput{
		TableName: aws.String(s.ordersTable),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan orders: %w", err)
	}
	return unmarshalOrders(result.Items), nil
}

func (s *DynamoStore) UpdateOrderStatus(ctx context.Context, orderID string, allowedFrom []order.Status, mutate func(*order.Order)) (*order.Order, error) {
	o, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	prev := o.Status
	if !statusIn(prev, allowedFrom) {
		return nil, ErrStatusConflict
	}

	mutate(o)

	av, err := marshalOrder(o)
	if err != nil {
		return nil, err
	}

	// Conditional put: the write only lands if nobody moved the status
	// since we read it.
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.ordersTable),
		Item:                av,
		ConditionExpression: aws.String("#st = :prev"),
		ExpressionAttributeNames: map[string]string{
			"#st": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":prev": &types.AttributeValueMemberS{Value: string(prev)},
		},
	})
	if isConditionalCheckFailed(err) {
		return nil, ErrStatusConflict
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update order status: %w", err)
	}
	return o, nil
}

func marshalOrder(o *order.Order) (map[string]types.AttributeValue, error) {
	doc, err := json.Marshal(o)
	if err != nil {
		return nil, err
	}
	item := dynamoOrder{
		ID:         o.ID,
		UserID:     o.UserID,
		Status:     string(o.Status),
		ShipmentID: o.ShipmentID,
		PaymentRef: o.PaymentRef,
		Doc:        string(doc),
	}
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal order: %w", err)
	}
	return av, nil
}

func unmarshalOrder(item map[string]types.AttributeValue) (*order.Order, error) {
	var do dynamoOrder
	if err := attributevalue.UnmarshalMap(item, &do); err != nil {
		return nil, fmt.Errorf("failed to unmarshal order: %w", err)
	}
	var o order.Order
	if err := json.Unmarshal([]byte(do.Doc), &o); err != nil {
		return nil, fmt.Errorf("failed to unmarshal order doc: %w", err)
	}
	return &o, nil
}

func unmarshalOrders(items []map[string]types.AttributeValue) []*order.Order {
	orders := make([]*order.Order, 0, len(items))
	for _, item := range items {
		o, err := unmarshalOrder(item)
		if err != nil {
			continue
		}
		orders = append(orders, o)
	}
	return orders
}

func statusIn(s order.Status, set []order.Status) bool {
	for _, allowed := range set {
		if s == allowed {
			return true
		}
	}
	return false
}

func isConditionalCheckFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

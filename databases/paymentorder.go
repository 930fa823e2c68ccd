package databases

// go generate: mockery --name PaymentOrderDatabase

import (
	"context"

	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/linesmerrill/haven-api/models"
)

const paymentOrderName = "paymentOrders"

// PaymentOrderDatabase contains the methods to use with the payment order database
type PaymentOrderDatabase interface {
	FindOne(context.Context, interface{}, ...*options.FindOneOptions) (*models.PaymentOrder, error)
	InsertOne(context.Context, interface{}, ...*options.InsertOneOptions) (InsertOneResultHelper, error)
	UpdateOne(context.Context, interface{}, interface{}, ...*options.FindOneAndUpdateOptions) (*models.PaymentOrder, error)
	UpdateMany(context.Context, interface{}, interface{}, ...*options.UpdateOptions) (int64, error)
}

type paymentOrderDatabase struct {
	db DatabaseHelper
}

// NewPaymentOrderDatabase initializes a new instance of payment order database with the provided db connection
func NewPaymentOrderDatabase(db DatabaseHelper) PaymentOrderDatabase {
	return &paymentOrderDatabase{
		db: db,
	}
}

func (p *paymentOrderDatabase) FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) (*models.PaymentOrder, error) {
	order := &models.PaymentOrder{}
	err := p.db.Collection(paymentOrderName).FindOne(ctx, filter, opts...).Decode(&order)
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (p *paymentOrderDatabase) InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (InsertOneResultHelper, error) {
	return p.db.Collection(paymentOrderName).InsertOne(ctx, document, opts...)
}

func (p *paymentOrderDatabase) UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.FindOneAndUpdateOptions) (*models.PaymentOrder, error) {
	opts = append([]*options.FindOneAndUpdateOptions{options.FindOneAndUpdate().SetReturnDocument(options.After)}, opts...)
	order := &models.PaymentOrder{}
	err := p.db.Collection(paymentOrderName).FindOneAndUpdate(ctx, filter, update, opts...).Decode(&order)
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (p *paymentOrderDatabase) UpdateMany(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (int64, error) {
	return p.db.Collection(paymentOrderName).UpdateMany(ctx, filter, update, opts...)
}

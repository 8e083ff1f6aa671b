// Package firestore mirrors the ledger into Firestore for the dashboard
// frontend. The local ledger file stays the source of truth; the mirror is
// idempotent per transaction ID, so re-syncing after a re-import never
// duplicates documents.
package firestore

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/rumor-ml/commons.systems/boursoledger/internal/domain"
)

// Client wraps Firestore with ledger-specific operations.
type Client struct {
	Firestore *firestore.Client
	Auth      *auth.Client
	projectID string
}

// NewClient creates a Firestore client. credentialsFile may be empty, in
// which case Application Default Credentials are used.
func NewClient(ctx context.Context, projectID, credentialsFile string) (*Client, error) {
	conf := &firebase.Config{ProjectID: projectID}

	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	app, err := firebase.NewApp(ctx, conf, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Firebase app: %w", err)
	}

	firestoreClient, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	authClient, err := app.Auth(ctx)
	if err != nil {
		firestoreClient.Close()
		return nil, fmt.Errorf("failed to create Auth client: %w", err)
	}

	return &Client{
		Firestore: firestoreClient,
		Auth:      authClient,
		projectID: projectID,
	}, nil
}

// Close closes the Firestore client.
func (c *Client) Close() error {
	return c.Firestore.Close()
}

// Transaction is the Firestore document shape for one ledger entry.
type Transaction struct {
	ID                string    `firestore:"id"`
	UserID            string    `firestore:"userId"`
	Date              string    `firestore:"date"`
	Month             string    `firestore:"month"`
	Label             string    `firestore:"label"`
	Supplier          string    `firestore:"supplier"`
	Amount            float64   `firestore:"amount"`
	RawCategory       string    `firestore:"rawCategory"`
	RawCategoryParent string    `firestore:"rawCategoryParent"`
	Category          string    `firestore:"category"`
	CreatedAt         time.Time `firestore:"createdAt"`
}

// transactionsCollection scopes documents per user.
func (c *Client) transactionsCollection(userID string) *firestore.CollectionRef {
	return c.Firestore.Collection("users").Doc(userID).Collection("transactions")
}

// SyncTransaction writes one transaction if its document does not exist
// yet. Returns true when a document was created.
func (c *Client) SyncTransaction(ctx context.Context, userID string, txn domain.Transaction) (bool, error) {
	if txn.ID == "" {
		return false, fmt.Errorf("transaction ID is required")
	}
	docRef := c.transactionsCollection(userID).Doc(txn.ID)

	_, err := docRef.Get(ctx)
	if err == nil {
		return false, nil // already mirrored
	}

	doc := Transaction{
		ID:                txn.ID,
		UserID:            userID,
		Date:              txn.Date,
		Month:             txn.Month,
		Label:             txn.Label,
		Supplier:          txn.Supplier,
		Amount:            txn.Amount,
		RawCategory:       txn.RawCategory,
		RawCategoryParent: txn.RawCategoryParent,
		Category:          txn.Category,
		CreatedAt:         time.Now(),
	}
	if _, err := docRef.Set(ctx, doc); err != nil {
		return false, fmt.Errorf("failed to create transaction %s: %w", txn.ID, err)
	}
	return true, nil
}

// SyncLedger mirrors the whole ledger, returning how many documents were
// newly created. Categories are always rewritten so recategorization
// propagates to the mirror.
func (c *Client) SyncLedger(ctx context.Context, userID string, ledger *domain.Ledger) (int, error) {
	created := 0
	for _, txn := range ledger.Transactions() {
		wasNew, err := c.SyncTransaction(ctx, userID, txn)
		if err != nil {
			return created, err
		}
		if wasNew {
			created++
			continue
		}
		// Existing document: keep identity fields, refresh the category.
		docRef := c.transactionsCollection(userID).Doc(txn.ID)
		if _, err := docRef.Update(ctx, []firestore.Update{
			{Path: "category", Value: txn.Category},
		}); err != nil {
			return created, fmt.Errorf("failed to update category for %s: %w", txn.ID, err)
		}
	}
	return created, nil
}

// GetTransactions fetches all mirrored transactions for a user.
func (c *Client) GetTransactions(ctx context.Context, userID string) ([]*Transaction, error) {
	iter := c.transactionsCollection(userID).OrderBy("date", firestore.Asc).Documents(ctx)
	defer iter.Stop()

	var transactions []*Transaction
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate transactions: %w", err)
		}
		var txn Transaction
		if err := doc.DataTo(&txn); err != nil {
			return nil, fmt.Errorf("failed to decode transaction %s: %w", doc.Ref.ID, err)
		}
		transactions = append(transactions, &txn)
	}
	return transactions, nil
}

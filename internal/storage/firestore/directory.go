package firestore

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tinywideclouds/go-chat-notifier/pkg/push"
)

const (
	usersCollection        = "users"
	chatsCollection        = "chats"
	participantsCollection = "participants"
	profilesCollection     = "user_profiles"
)

// FirestoreDirectory implements dispatch.Directory on top of Cloud Firestore.
//
// Layout:
//
//	users/{userID}                          {name, fcm_token}
//	chats/{chatID}/participants/{userID}    {}
//	user_profiles/{userID}                  {fcm_token}
type FirestoreDirectory struct {
	client *firestore.Client
}

func NewFirestoreDirectory(client *firestore.Client) *FirestoreDirectory {
	return &FirestoreDirectory{client: client}
}

// userRecord is the internal DB representation of users/{id} and user_profiles/{id}.
type userRecord struct {
	Name     string `firestore:"name,omitempty"`
	FCMToken string `firestore:"fcm_token,omitempty"`
}

func (s *FirestoreDirectory) DisplayName(ctx context.Context, userID string) (string, bool, error) {
	rec, found, err := s.get(ctx, s.client.Collection(usersCollection).Doc(userID))
	if err != nil || !found {
		return "", found, err
	}
	return rec.Name, true, nil
}

func (s *FirestoreDirectory) PushToken(ctx context.Context, userID string) (string, error) {
	rec, _, err := s.get(ctx, s.client.Collection(profilesCollection).Doc(userID))
	if err != nil {
		return "", err
	}
	return rec.FCMToken, nil
}

// --- FAN-OUT (The Lookup) ---

func (s *FirestoreDirectory) ChatRecipients(ctx context.Context, chatID, excludeUserID string) ([]push.Recipient, error) {
	iter := s.client.Collection(chatsCollection).Doc(chatID).Collection(participantsCollection).Documents(ctx)
	defer iter.Stop()

	var refs []*firestore.DocumentRef
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore iteration failed: %w", err)
		}
		if doc.Ref.ID == excludeUserID {
			continue
		}
		refs = append(refs, s.client.Collection(usersCollection).Doc(doc.Ref.ID))
	}
	if len(refs) == 0 {
		return nil, nil
	}

	snaps, err := s.client.GetAll(ctx, refs)
	if err != nil {
		return nil, fmt.Errorf("firestore user fetch failed: %w", err)
	}

	recipients := make([]push.Recipient, 0, len(snaps))
	for _, snap := range snaps {
		// Participants without a user document behave like an inner join.
		if !snap.Exists() {
			continue
		}
		var rec userRecord
		if err := snap.DataTo(&rec); err != nil {
			// Usually safe to skip corrupt rows.
			continue
		}
		recipients = append(recipients, push.Recipient{UserID: snap.Ref.ID, PushToken: rec.FCMToken})
	}
	return recipients, nil
}

// --- Helpers ---

func (s *FirestoreDirectory) get(ctx context.Context, ref *firestore.DocumentRef) (userRecord, bool, error) {
	var rec userRecord
	snap, err := ref.Get(ctx)
	if status.Code(err) == codes.NotFound {
		return rec, false, nil
	}
	if err != nil {
		return rec, false, fmt.Errorf("firestore get %s failed: %w", ref.Path, err)
	}
	if err := snap.DataTo(&rec); err != nil {
		return rec, false, fmt.Errorf("firestore decode %s failed: %w", ref.Path, err)
	}
	return rec, true, nil
}

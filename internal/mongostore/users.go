package mongostore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"bookreview/internal/apperr"
	"bookreview/pkg/models"
)

type Users struct {
	coll *mongo.Collection
}

func (s *Users) CreateUser(ctx context.Context, u *models.User) error {
	now := time.Now().UTC()
	if u.Role == "" {
		u.Role = models.RoleUser
	}
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	u.CreatedAt, u.UpdatedAt = now, now

	if _, err := s.coll.InsertOne(ctx, u); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return apperr.Conflict("User already exists")
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *Users) findOne(ctx context.Context, op string, filter bson.M) (*models.User, error) {
	var u models.User
	if err := s.coll.FindOne(ctx, filter).Decode(&u); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &u, nil
}

func (s *Users) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.findOne(ctx, "get by email", bson.M{"email": strings.ToLower(strings.TrimSpace(email))})
}

func (s *Users) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	return s.findOne(ctx, "get by username", bson.M{"username": strings.TrimSpace(username)})
}

func (s *Users) GetByID(ctx context.Context, id string) (*models.User, error) {
	return s.findOne(ctx, "get by id", bson.M{"_id": id})
}

func (s *Users) GetTokenVersion(ctx context.Context, id string) (int, error) {
	var doc struct {
		TokenVersion int `bson:"token_version"`
	}
	opts := options.FindOne().SetProjection(bson.M{"token_version": 1})
	if err := s.coll.FindOne(ctx, bson.M{"_id": id}, opts).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, apperr.ErrNotFound
		}
		return 0, fmt.Errorf("get token version: %w", err)
	}
	return doc.TokenVersion, nil
}

func (s *Users) UpdateProfile(ctx context.Context, id string, p models.ProfilePatch) (*models.User, error) {
	set := bson.M{"updated_at": time.Now().UTC()}
	if p.Username != nil {
		set["username"] = *p.Username
	}
	if p.Bio != nil {
		set["bio"] = *p.Bio
	}
	if p.ProfilePicture != nil {
		set["profile_picture"] = *p.ProfilePicture
	}

	var u models.User
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	err := s.coll.FindOneAndUpdate(ctx, bson.M{"_id": id}, bson.M{"$set": set}, opts).Decode(&u)
	switch {
	case err == nil:
		return &u, nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return nil, apperr.NotFound("User not found")
	case mongo.IsDuplicateKeyError(err):
		return nil, apperr.Conflict("Username already taken")
	default:
		return nil, fmt.Errorf("update profile: %w", err)
	}
}

func (s *Users) SetRole(ctx context.Context, id string, role models.Role) error {
	return s.updateOne(ctx, "set role", id, bson.M{
		"$set": bson.M{"role": role, "updated_at": time.Now().UTC()},
		"$inc": bson.M{"token_version": 1},
	})
}

func (s *Users) UpdatePasswordAndBumpTokenVersion(ctx context.Context, id, passwordHash string) error {
	return s.updateOne(ctx, "update password", id, bson.M{
		"$set": bson.M{"password_hash": passwordHash, "updated_at": time.Now().UTC()},
		"$inc": bson.M{"token_version": 1},
	})
}

func (s *Users) BumpTokenVersion(ctx context.Context, id string) error {
	return s.updateOne(ctx, "bump token version", id, bson.M{"$inc": bson.M{"token_version": 1}})
}

func (s *Users) updateOne(ctx context.Context, op, id string, update bson.M) error {
	res, err := s.coll.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if res.MatchedCount == 0 {
		return apperr.NotFound("User not found")
	}
	return nil
}

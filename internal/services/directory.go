package services

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/BradenHooton/campusgate/internal/models"
	pkgauth "github.com/BradenHooton/campusgate/pkg/auth"
	"gopkg.in/yaml.v3"
)

// directoryEntry is one user as written in the directory file. Either
// Password (hashed at load) or PasswordHash must be set.
type directoryEntry struct {
	ID           string `yaml:"id"`
	Email        string `yaml:"email"`
	NationalID   string `yaml:"national_id"`
	Name         string `yaml:"name"`
	Role         string `yaml:"role"`
	Password     string `yaml:"password"`
	PasswordHash string `yaml:"password_hash"`
	Disabled     bool   `yaml:"disabled"`
}

type directoryFile struct {
	Users []directoryEntry `yaml:"users"`
}

// Directory is the read-only user directory of the development
// credential server. Users are found by id, email or national id.
type Directory struct {
	byID         map[string]*models.DirectoryUser
	byIdentifier map[string]*models.DirectoryUser
}

// LoadDirectory reads and parses the YAML directory at path
func LoadDirectory(path string, bcryptCost int, logger *slog.Logger) (*Directory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory file: %w", err)
	}
	return ParseDirectory(data, bcryptCost, logger)
}

// ParseDirectory builds a Directory from YAML
func ParseDirectory(data []byte, bcryptCost int, logger *slog.Logger) (*Directory, error) {
	var file directoryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse directory: %w", err)
	}

	d := &Directory{
		byID:         make(map[string]*models.DirectoryUser, len(file.Users)),
		byIdentifier: make(map[string]*models.DirectoryUser, 2*len(file.Users)),
	}

	for i, entry := range file.Users {
		user, err := entry.toUser(bcryptCost, logger)
		if err != nil {
			return nil, fmt.Errorf("directory entry %d: %w", i, err)
		}

		if _, exists := d.byID[user.ID]; exists {
			return nil, fmt.Errorf("directory entry %d: duplicate id %q", i, user.ID)
		}
		d.byID[user.ID] = user

		for _, identifier := range []string{user.Email, user.NationalID} {
			if identifier == "" {
				continue
			}
			if _, exists := d.byIdentifier[identifier]; exists {
				return nil, fmt.Errorf("directory entry %d: duplicate identifier", i)
			}
			d.byIdentifier[identifier] = user
		}
	}

	logger.Info("user directory loaded", slog.Int("users", len(d.byID)))
	return d, nil
}

func (e directoryEntry) toUser(bcryptCost int, logger *slog.Logger) (*models.DirectoryUser, error) {
	if e.ID == "" || e.Email == "" {
		return nil, fmt.Errorf("id and email are required")
	}

	role := models.Role(e.Role)
	if !role.Valid() {
		return nil, fmt.Errorf("unknown role %q", e.Role)
	}

	hash := e.PasswordHash
	switch {
	case hash != "":
	case e.Password != "":
		if err := pkgauth.ValidatePassword(e.Password); err != nil {
			logger.Warn("directory user has a weak password", slog.String("user_id", e.ID))
		}
		var err error
		if hash, err = pkgauth.HashPasswordWithCost(e.Password, bcryptCost); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("password or password_hash is required")
	}

	return &models.DirectoryUser{
		ID:           e.ID,
		Email:        models.NormalizeIdentifier(e.Email),
		NationalID:   models.NormalizeIdentifier(e.NationalID),
		Name:         e.Name,
		Role:         role,
		PasswordHash: hash,
		Disabled:     e.Disabled,
	}, nil
}

// GetByID returns the user with the given id
func (d *Directory) GetByID(ctx context.Context, id string) (*models.DirectoryUser, error) {
	user, ok := d.byID[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return user, nil
}

// GetByIdentifier returns the user whose email or national id matches
func (d *Directory) GetByIdentifier(ctx context.Context, identifier string) (*models.DirectoryUser, error) {
	user, ok := d.byIdentifier[models.NormalizeIdentifier(identifier)]
	if !ok {
		return nil, models.ErrNotFound
	}
	return user, nil
}

// Len returns the number of users
func (d *Directory) Len() int {
	return len(d.byID)
}

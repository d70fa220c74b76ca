package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "embed"

	"github.com/lib/pq"
	"golang.org/x/exp/slog"
)

//go:embed schema.sql
var schema string

const pqUniqueViolation = "23505"

type PostgreSQLDatabase struct {
	db *sql.DB
}

func NewPostgreSQLDatabase(ctx context.Context, connStr string) (*PostgreSQLDatabase, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	pg := &PostgreSQLDatabase{db: db}
	if err := pg.db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	slog.Debug("Database pinged")

	if _, err := pg.db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create database schema: %w", err)
	}

	slog.Info("Successfully created the database schema")

	return pg, nil
}

func (pq *PostgreSQLDatabase) Close() error {
	return pq.db.Close()
}

func (pq *PostgreSQLDatabase) Ping(ctx context.Context) error {
	return pq.db.PingContext(ctx)
}

// withConn runs fn on a connection taken from the pool and always hands it back.
func (pq *PostgreSQLDatabase) withConn(ctx context.Context, fn func(conn *sql.Conn) error) error {
	conn, err := pq.db.Conn(ctx)
	if err != nil {
		return repositoryError(err)
	}
	defer conn.Close()

	return repositoryError(fn(conn))
}

func (pq *PostgreSQLDatabase) CreateUser(ctx context.Context, email, passwordHash string) (User, error) {
	const createUser = `
	INSERT INTO users (email, hashed_password)
	VALUES($1, $2)
	RETURNING id, email, hashed_password
	`

	var u User
	err := pq.withConn(ctx, func(conn *sql.Conn) error {
		row := conn.QueryRowContext(ctx, createUser, email, passwordHash)
		return row.Scan(&u.ID, &u.Email, &u.PasswordHash)
	})

	return u, err
}

func (pq *PostgreSQLDatabase) GetUserByEmail(ctx context.Context, email string) (User, error) {
	const getUserByEmail = `
	SELECT
		id,
		email,
		hashed_password
	FROM users
	WHERE email = $1
	`

	var u User
	err := pq.withConn(ctx, func(conn *sql.Conn) error {
		row := conn.QueryRowContext(ctx, getUserByEmail, email)
		return row.Scan(&u.ID, &u.Email, &u.PasswordHash)
	})

	return u, err
}

func (pq *PostgreSQLDatabase) CreateImage(ctx context.Context, img Image) (Image, error) {
	const createImage = `
	INSERT INTO images(filename, object_key, url, description, upload_date, owner_id)
	VALUES($1, $2, $3, $4, $5, $6)
	RETURNING id, filename, object_key, url, description, upload_date, owner_id
	`

	var i Image
	err := pq.withConn(ctx, func(conn *sql.Conn) error {
		row := conn.QueryRowContext(ctx, createImage,
			img.Filename, img.ObjectKey, img.URL, img.Description, img.UploadDate, img.OwnerID)
		return scanImage(row, &i)
	})

	return i, err
}

func (pq *PostgreSQLDatabase) ListImagesByOwner(ctx context.Context, ownerID int64) ([]Image, error) {
	const listImagesByOwner = `
	SELECT
		id,
		filename,
		object_key,
		url,
		description,
		upload_date,
		owner_id
	FROM images
	WHERE owner_id = $1
	ORDER BY upload_date DESC, id DESC
	`

	items := []Image{}
	err := pq.withConn(ctx, func(conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, listImagesByOwner, ownerID)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var i Image
			if err := scanImage(rows, &i); err != nil {
				return err
			}

			items = append(items, i)
		}

		if err := rows.Close(); err != nil {
			return err
		}

		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	return items, nil
}

func (pq *PostgreSQLDatabase) GetImageByID(ctx context.Context, id int64) (Image, error) {
	const getImageByID = `
	SELECT
		id,
		filename,
		object_key,
		url,
		description,
		upload_date,
		owner_id
	FROM images
	WHERE id = $1
	`

	var i Image
	err := pq.withConn(ctx, func(conn *sql.Conn) error {
		return scanImage(conn.QueryRowContext(ctx, getImageByID, id), &i)
	})

	return i, err
}

func (pq *PostgreSQLDatabase) FindImageOwner(ctx context.Context, imageID int64) (User, error) {
	const findImageOwner = `
	SELECT
		u.id,
		u.email,
		u.hashed_password
	FROM images i
	JOIN users u ON u.id = i.owner_id
	WHERE i.id = $1
	`

	var u User
	err := pq.withConn(ctx, func(conn *sql.Conn) error {
		row := conn.QueryRowContext(ctx, findImageOwner, imageID)
		return row.Scan(&u.ID, &u.Email, &u.PasswordHash)
	})

	return u, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanImage(row scanner, i *Image) error {
	var description sql.NullString
	if err := row.Scan(
		&i.ID,
		&i.Filename,
		&i.ObjectKey,
		&i.URL,
		&description,
		&i.UploadDate,
		&i.OwnerID,
	); err != nil {
		return err
	}

	if description.Valid {
		i.Description = &description.String
	}
	i.UploadDate = i.UploadDate.UTC()

	return nil
}

// repositoryError classifies driver errors into the repository error taxonomy.
func repositoryError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
		return ErrDuplicateEmail
	}

	return fmt.Errorf("%w: %w", ErrRepository, err)
}

/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"kiota-savings-go/internal/models"
	"kiota-savings-go/internal/store"

	"go.uber.org/zap"
)

func (s *Service) CreateDepositSession(ctx context.Context, session models.DepositSession) (*models.DepositSession, error) {
	zap.L().Info("Creating deposit session",
		zap.String("session_id", session.Id),
		zap.String("user_id", session.UserId),
		zap.String("token", session.Token),
		zap.String("min_amount", session.MinAmount.String()),
		zap.String("max_amount", session.MaxAmount.String()))

	_, err := s.db.ExecContext(ctx, queryInsertDepositSession,
		session.Id,
		session.UserId,
		session.DepositAddress,
		session.Token,
		session.ExpectedAmount.String(),
		session.MinAmount.String(),
		session.MaxAmount.String(),
		session.CreatedAtBlock,
		string(session.Status),
		session.CreatedAt,
		session.ExpiresAt,
	)
	if err != nil {
		return nil, fmt.Errorf("unable to insert deposit session: %w", err)
	}

	return s.GetDepositSession(ctx, session.Id)
}

func (s *Service) GetDepositSession(ctx context.Context, sessionId string) (*models.DepositSession, error) {
	row := s.db.QueryRowContext(ctx, queryGetDepositSession, sessionId)
	session, err := scanDepositSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", store.ErrSessionNotFound, sessionId)
		}
		return nil, fmt.Errorf("unable to query deposit session: %w", err)
	}
	return session, nil
}

// BindDepositMatch records the matched transfer on the session. The match is
// overwritable while the session is AWAITING_TRANSFER or RECEIVED; once the
// session reaches a terminal state the bind is refused.
func (s *Service) BindDepositMatch(ctx context.Context, params store.BindMatchParams) error {
	result, err := s.db.ExecContext(ctx, queryBindDepositMatch,
		params.TxHash,
		params.LogIndex,
		params.FromAddress,
		params.Amount.String(),
		params.BlockNumber,
		params.SessionId,
	)
	if err != nil {
		return fmt.Errorf("unable to bind deposit match: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("session %s is not matchable - %w", params.SessionId, store.ErrInvalidTransition)
	}
	return nil
}

// TransitionSession moves the session from one status to another. The update
// is guarded on the expected current status so racing transitions lose cleanly.
func (s *Service) TransitionSession(ctx context.Context, sessionId string, from, to models.SessionStatus) error {
	result, err := s.db.ExecContext(ctx, queryTransitionSession, string(to), sessionId, string(from))
	if err != nil {
		return fmt.Errorf("unable to transition session: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("session %s is not %s - %w", sessionId, from, store.ErrInvalidTransition)
	}

	zap.L().Info("Session transitioned",
		zap.String("session_id", sessionId),
		zap.String("from", string(from)),
		zap.String("to", string(to)))
	return nil
}

func (s *Service) ListSessionsByStatus(ctx context.Context, statuses ...models.SessionStatus) ([]models.DepositSession, error) {
	var sessions []models.DepositSession
	for _, status := range statuses {
		rows, err := s.db.QueryContext(ctx, queryListSessionsByStatus, string(status))
		if err != nil {
			return nil, fmt.Errorf("unable to query sessions by status: %w", err)
		}

		for rows.Next() {
			session, err := scanDepositSession(rows)
			if err != nil {
				rows.Close()
				return nil, fmt.Errorf("unable to scan session row: %w", err)
			}
			sessions = append(sessions, *session)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, fmt.Errorf("error iterating session rows: %w", err)
		}
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}
	return sessions, nil
}

func scanDepositSession(row rowScanner) (*models.DepositSession, error) {
	var session models.DepositSession
	var expectedStr, minStr, maxStr, matchedStr string
	var status string
	var confirmedAt sql.NullTime
	if err := row.Scan(
		&session.Id,
		&session.UserId,
		&session.DepositAddress,
		&session.Token,
		&expectedStr,
		&minStr,
		&maxStr,
		&session.CreatedAtBlock,
		&status,
		&session.MatchedTxHash,
		&session.MatchedLogIndex,
		&session.MatchedFrom,
		&matchedStr,
		&session.MatchedBlock,
		&session.LedgerTransactionId,
		&session.CreatedAt,
		&session.ExpiresAt,
		&confirmedAt,
		&session.UpdatedAt,
	); err != nil {
		return nil, err
	}

	session.Status = models.SessionStatus(status)
	if confirmedAt.Valid {
		session.ConfirmedAt = confirmedAt.Time
	}

	var err error
	if session.ExpectedAmount, err = parseDecimal(expectedStr, "expected_amount"); err != nil {
		return nil, err
	}
	if session.MinAmount, err = parseDecimal(minStr, "min_amount"); err != nil {
		return nil, err
	}
	if session.MaxAmount, err = parseDecimal(maxStr, "max_amount"); err != nil {
		return nil, err
	}
	if session.MatchedAmount, err = parseDecimal(matchedStr, "matched_amount"); err != nil {
		return nil, err
	}
	return &session, nil
}

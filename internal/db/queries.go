package db

const (
	schema = `
	CREATE TABLE IF NOT EXISTS accounts (
		id VARCHAR(36) PRIMARY KEY,
		username VARCHAR(50) NOT NULL,
		email VARCHAR(100) NOT NULL,
		password_hash VARCHAR(255) NOT NULL,
		pin_hash VARCHAR(255) NOT NULL,
		balance NUMERIC(15, 2) NOT NULL DEFAULT 0 CHECK (balance >= 0),
		role VARCHAR(10) NOT NULL DEFAULT 'user',
		status VARCHAR(10) NOT NULL DEFAULT 'active',
		avatar TEXT NOT NULL DEFAULT '',
		last_login TIMESTAMPTZ,
		auth_token_id VARCHAR(36) NOT NULL DEFAULT '',
		token_issued_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS accounts_username_lower_key ON accounts (LOWER(username));
	CREATE UNIQUE INDEX IF NOT EXISTS accounts_email_lower_key ON accounts (LOWER(email));

	CREATE TABLE IF NOT EXISTS transactions (
		id VARCHAR(36) PRIMARY KEY,
		account_id VARCHAR(36) NOT NULL REFERENCES accounts(id),
		counterparty_id VARCHAR(36) REFERENCES accounts(id),
		type VARCHAR(12) NOT NULL,
		amount NUMERIC(15, 2) NOT NULL CHECK (amount > 0),
		recipient_info TEXT,
		timestamp TIMESTAMPTZ NOT NULL,
		created_by VARCHAR(36) NOT NULL REFERENCES accounts(id),
		receipt TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_account_ts ON transactions (account_id, timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_transactions_ts ON transactions (timestamp DESC);`

	// Unique index names, used to tell which constraint an insert violated.
	constraintUsername = "accounts_username_lower_key"
	constraintEmail    = "accounts_email_lower_key"

	accountColumns = `id, username, email, password_hash, pin_hash, balance, role, status, avatar,
		last_login, auth_token_id, token_issued_at, created_at, updated_at`

	queryInsertAccount = `
	INSERT INTO accounts (` + accountColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	RETURNING ` + accountColumns

	queryGetAccount = `
	SELECT ` + accountColumns + `
	FROM accounts
	WHERE id = $1`

	queryGetAccountByUsername = `
	SELECT ` + accountColumns + `
	FROM accounts
	WHERE LOWER(username) = LOWER($1)`

	queryGetAccountByEmail = `
	SELECT ` + accountColumns + `
	FROM accounts
	WHERE LOWER(email) = LOWER($1)`

	queryListAccounts = `
	SELECT ` + accountColumns + `
	FROM accounts
	WHERE status <> 'deleted'
	ORDER BY created_at, id`

	queryLockAccount = `
	SELECT ` + accountColumns + `
	FROM accounts
	WHERE id = $1
	FOR UPDATE`

	queryUpdateStatus = `
	UPDATE accounts SET status = $1, updated_at = $2
	WHERE id = $3
	RETURNING ` + accountColumns

	queryUpdateAvatar = `
	UPDATE accounts SET avatar = $1, updated_at = $2
	WHERE id = $3
	RETURNING ` + accountColumns

	queryUpdatePassword = `
	UPDATE accounts SET password_hash = $1, updated_at = $2
	WHERE id = $3`

	queryRecordLogin = `
	UPDATE accounts SET last_login = $1, auth_token_id = $2, token_issued_at = $1, updated_at = $1
	WHERE id = $3`

	queryClearAuthToken = `
	UPDATE accounts SET auth_token_id = '', updated_at = $1
	WHERE id = $2`

	queryUpdateBalance = `
	UPDATE accounts SET balance = $1, updated_at = $2
	WHERE id = $3`

	transactionColumns = `id, account_id, COALESCE(counterparty_id, ''), type, amount, recipient_info,
		timestamp, created_by, receipt`

	queryInsertTransaction = `
	INSERT INTO transactions (id, account_id, counterparty_id, type, amount, recipient_info, timestamp, created_by, receipt)
	VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $9)`

	queryGetTransaction = `
	SELECT ` + transactionColumns + `
	FROM transactions
	WHERE id = $1`

	queryListTransactionsByAccount = `
	SELECT ` + transactionColumns + `
	FROM transactions
	WHERE account_id = $1
	ORDER BY timestamp DESC, id
	LIMIT $2`

	queryListTransactions = `
	SELECT ` + transactionColumns + `
	FROM transactions
	ORDER BY timestamp DESC, id
	LIMIT $1`

	queryAttachReceipt = `
	UPDATE transactions SET receipt = $1
	WHERE id = $2
	RETURNING ` + transactionColumns
)

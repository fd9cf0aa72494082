package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/RUNSTR-LLC/nutzap/cashu"
	bolt "go.etcd.io/bbolt"
)

const (
	proofsBucket       = "proofs"
	transactionsBucket = "transactions"
	quotesBucket       = "quotes"
	redeemedBucket     = "redeemed"
	configBucket       = "config"

	mintURLKey = "mint_url"

	// MaxTransactions is the number of history records retained.
	// Older records are dropped first.
	MaxTransactions = 100
)

type BoltDB struct {
	bolt *bolt.DB
}

func InitBolt(path string) (*BoltDB, error) {
	db, err := bolt.Open(filepath.Join(path, "wallet.db"), 0600,
		&bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("error opening wallet db: %v", err)
	}

	boltdb := &BoltDB{bolt: db}
	if err := boltdb.initWalletBuckets(); err != nil {
		return nil, fmt.Errorf("error setting up wallet db: %v", err)
	}

	return boltdb, nil
}

func (db *BoltDB) initWalletBuckets() error {
	return db.bolt.Update(func(tx *bolt.Tx) error {
		buckets := []string{proofsBucket, transactionsBucket,
			quotesBucket, redeemedBucket, configBucket}
		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists([]byte(bucket)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (db *BoltDB) GetProofs() (cashu.Proofs, error) {
	proofs := cashu.Proofs{}
	var corrupt error

	if err := db.bolt.View(func(tx *bolt.Tx) error {
		proofsb := tx.Bucket([]byte(proofsBucket))

		c := proofsb.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var proof cashu.Proof
			if err := json.Unmarshal(v, &proof); err != nil {
				corrupt = fmt.Errorf("corrupt proof record: %v", err)
				continue
			}
			proofs = append(proofs, proof)
		}
		return nil
	}); err != nil {
		return cashu.Proofs{}, fmt.Errorf("error reading proofs: %v", err)
	}

	if corrupt != nil {
		return cashu.Proofs{}, corrupt
	}
	return proofs, nil
}

func (db *BoltDB) SaveProofs(proofs cashu.Proofs) error {
	return db.bolt.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket([]byte(proofsBucket)); err != nil {
			return err
		}
		proofsb, err := tx.CreateBucket([]byte(proofsBucket))
		if err != nil {
			return err
		}

		for _, proof := range proofs {
			jsonProof, err := json.Marshal(proof)
			if err != nil {
				return fmt.Errorf("invalid proof: %v", err)
			}
			if err := proofsb.Put([]byte(proof.Secret), jsonProof); err != nil {
				return err
			}
		}
		return nil
	})
}

func (db *BoltDB) SaveTransaction(transaction Transaction) error {
	jsonTx, err := json.Marshal(transaction)
	if err != nil {
		return fmt.Errorf("invalid transaction: %v", err)
	}

	return db.bolt.Update(func(tx *bolt.Tx) error {
		txb := tx.Bucket([]byte(transactionsBucket))
		seq, err := txb.NextSequence()
		if err != nil {
			return err
		}

		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)
		if err := txb.Put(key, jsonTx); err != nil {
			return err
		}

		// drop oldest records over the retention cap
		count := 0
		c := txb.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			count++
		}
		for count > MaxTransactions {
			k, _ := txb.Cursor().First()
			if err := txb.Delete(k); err != nil {
				return err
			}
			count--
		}
		return nil
	})
}

func (db *BoltDB) GetTransactions(limit int) ([]Transaction, error) {
	if limit <= 0 || limit > MaxTransactions {
		limit = MaxTransactions
	}

	transactions := make([]Transaction, 0, limit)
	if err := db.bolt.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(transactionsBucket)).Cursor()
		// newest first
		for k, v := c.Last(); k != nil && len(transactions) < limit; k, v = c.Prev() {
			var transaction Transaction
			if err := json.Unmarshal(v, &transaction); err != nil {
				continue
			}
			transactions = append(transactions, transaction)
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("error reading transactions: %v", err)
	}

	return transactions, nil
}

func (db *BoltDB) SavePendingQuote(quote PendingQuote) error {
	jsonQuote, err := json.Marshal(quote)
	if err != nil {
		return fmt.Errorf("invalid quote: %v", err)
	}

	return db.bolt.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(quotesBucket)).Put([]byte(quote.QuoteId), jsonQuote)
	})
}

func (db *BoltDB) GetPendingQuote(quoteId string) (*PendingQuote, error) {
	var quote *PendingQuote
	if err := db.bolt.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(quotesBucket)).Get([]byte(quoteId))
		if v == nil {
			return nil
		}
		var q PendingQuote
		if err := json.Unmarshal(v, &q); err != nil {
			return fmt.Errorf("corrupt quote record: %v", err)
		}
		quote = &q
		return nil
	}); err != nil {
		return nil, err
	}
	return quote, nil
}

func (db *BoltDB) DeletePendingQuote(quoteId string) error {
	return db.bolt.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(quotesBucket)).Delete([]byte(quoteId))
	})
}

func (db *BoltDB) GetPendingQuotes() ([]PendingQuote, error) {
	quotes := []PendingQuote{}
	if err := db.bolt.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(quotesBucket)).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var quote PendingQuote
			if err := json.Unmarshal(v, &quote); err != nil {
				continue
			}
			quotes = append(quotes, quote)
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("error reading quotes: %v", err)
	}
	return quotes, nil
}

func (db *BoltDB) MarkTokenRedeemed(tokenHash string) error {
	return db.bolt.Update(func(tx *bolt.Tx) error {
		redeemedAt := []byte(time.Now().UTC().Format(time.RFC3339))
		return tx.Bucket([]byte(redeemedBucket)).Put([]byte(tokenHash), redeemedAt)
	})
}

func (db *BoltDB) IsTokenRedeemed(tokenHash string) (bool, error) {
	var redeemed bool
	err := db.bolt.View(func(tx *bolt.Tx) error {
		redeemed = tx.Bucket([]byte(redeemedBucket)).Get([]byte(tokenHash)) != nil
		return nil
	})
	return redeemed, err
}

func (db *BoltDB) SaveMintURL(url string) error {
	return db.bolt.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(configBucket)).Put([]byte(mintURLKey), []byte(url))
	})
}

func (db *BoltDB) GetMintURL() string {
	var mintURL string
	db.bolt.View(func(tx *bolt.Tx) error {
		mintURL = string(tx.Bucket([]byte(configBucket)).Get([]byte(mintURLKey)))
		return nil
	})
	return mintURL
}

func (db *BoltDB) Reset() error {
	return db.bolt.Update(func(tx *bolt.Tx) error {
		buckets := []string{proofsBucket, transactionsBucket,
			quotesBucket, redeemedBucket, configBucket}
		for _, bucket := range buckets {
			if err := tx.DeleteBucket([]byte(bucket)); err != nil {
				return err
			}
			if _, err := tx.CreateBucket([]byte(bucket)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (db *BoltDB) Close() error {
	return db.bolt.Close()
}

package mongodb

import "go.mongodb.org/mongo-driver/mongo"

var Classify = classify

// Handle returns the driver database so tests can seed and clean up.
func (d *Database) Handle() *mongo.Database {
	return d.db
}

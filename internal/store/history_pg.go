package store

import (
	"database/sql"

	"github.com/lib/pq"

	"github.com/example/ride-dispatch/internal/models"
)

// PostgresHistory persists ride history rows. Idempotence rides on the
// request_ref unique index: duplicate completion triggers become no-op
// inserts.
type PostgresHistory struct {
	db *sql.DB
}

func NewPostgresHistory(dsn string) (*PostgresHistory, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresHistory{db: db}, nil
}

func (p *PostgresHistory) Append(rec models.HistoryRecord) error {
	_, err := p.db.Exec(`
		INSERT INTO ride_history(
			request_ref, rider_id, vehicle_id, vehicle_name, vehicle_model,
			from_address, to_address, start_lat, start_lng, end_lat, end_lng,
			fare, status, reason, personal_ride, date
		) VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		ON CONFLICT (request_ref) DO NOTHING`,
		rec.RequestRef, rec.RiderID, rec.VehicleID, rec.VehicleName, rec.VehicleModel,
		rec.FromAddress, rec.ToAddress, rec.Start.Lat, rec.Start.Lng, rec.End.Lat, rec.End.Lng,
		rec.Fare, rec.Status, rec.Reason, rec.PersonalRide, rec.Date)
	return err
}

func (p *PostgresHistory) ListByUser(userID string, vehicleIDs []string) ([]models.HistoryRecord, error) {
	rows, err := p.db.Query(`
		SELECT request_ref, rider_id, vehicle_id, vehicle_name, vehicle_model,
		       from_address, to_address, start_lat, start_lng, end_lat, end_lng,
		       fare, status, reason, personal_ride, date
		FROM ride_history
		WHERE rider_id = $1 OR vehicle_id = ANY($2)
		ORDER BY date DESC`,
		userID, pq.Array(vehicleIDs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.HistoryRecord
	for rows.Next() {
		var r models.HistoryRecord
		if err := rows.Scan(
			&r.RequestRef, &r.RiderID, &r.VehicleID, &r.VehicleName, &r.VehicleModel,
			&r.FromAddress, &r.ToAddress, &r.Start.Lat, &r.Start.Lng, &r.End.Lat, &r.End.Lng,
			&r.Fare, &r.Status, &r.Reason, &r.PersonalRide, &r.Date); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *PostgresHistory) Close() error { return p.db.Close() }
